// Package types holds the data model shared across the engine's
// components: endpoints and their health, opportunities and their
// scores, nonce bookkeeping, gas data, and relay/bundle wire shapes.
package types

import (
	"math/big"
	"time"
)

// EndpointStatus is the health classification assigned by the RPC pool's
// probe loop.
type EndpointStatus int

const (
	StatusHealthy EndpointStatus = iota
	StatusDegraded
	StatusQuarantined
)

func (s EndpointStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// BreakerState is the circuit-breaker state machine position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Endpoint is an immutable RPC endpoint description loaded from
// configuration. It never changes after the pool is constructed.
type Endpoint struct {
	Chain    string
	URL      string
	Weight   int // [0,100]
	Priority int // [0,255]; carried from config, not read by the pool's selection
	MaxRPS   float64
	Auth     string // optional bearer/header value
}

// EndpointHealth is the mutable health record the pool's probe loop and
// request outcomes update. Reads/writes are guarded by the owning
// pool's per-endpoint lock; callers never hold a pointer across a
// suspension point.
type EndpointHealth struct {
	Status         EndpointStatus
	SuccessCount   uint64
	FailureCount   uint64
	EWMALatencyMs  float64
	LastError      string
	BreakerState   BreakerState
	LastTransition time.Time

	consecutiveFailures int
	consecutiveSuccess  int
	breakerOpenedAt     time.Time
}

// Strategy identifies the arbitrage/MEV playbook an opportunity belongs
// to. The set is closed; adding a new strategy means a new constant
// plus one arm in the executor's strategy table.
type Strategy string

const (
	StrategyDexArb      Strategy = "dex-arb"
	StrategyTriangular  Strategy = "triangular"
	StrategyCrossChain  Strategy = "cross-chain"
	StrategySandwich    Strategy = "sandwich"
	StrategyLiquidation Strategy = "liquidation"
	StrategyNFT         Strategy = "nft"
	StrategyBackrun     Strategy = "backrun"
	StrategyJIT         Strategy = "jit"
)

// Opportunity is an immutable candidate deposited by an external
// producer. Its id uniquely identifies it; the producer is responsible
// for that uniqueness.
type Opportunity struct {
	ID                string
	ChainID           string
	Strategy          Strategy
	DexIn             string
	DexOut            string
	BaseToken         string
	QuoteToken        string
	AmountIn          *big.Int
	EstGrossProfitUSD float64
	GasUSDEstimate    float64
	TsCreatedMs       int64
	Metadata          map[string]string

	// TokensTouched lists every token address the strategy path
	// interacts with; used by the risk scorer for whitelist/blacklist
	// checks.
	TokensTouched []string
}

// OpportunityScore is the derived, immutable scoring result for one
// opportunity.
type OpportunityScore struct {
	OpportunityID string
	Total         float64
	Profit        float64
	Risk          float64
	GasEfficiency float64
	Timing        float64
}

// TxState is the lifecycle state of an in-flight transaction.
type TxState int

const (
	TxPending TxState = iota
	TxMined
	TxFailed
	TxReplaced
	TxExpired
)

func (s TxState) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxMined:
		return "mined"
	case TxFailed:
		return "failed"
	case TxReplaced:
		return "replaced"
	case TxExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// NonceKey identifies a (chain, wallet) nonce slot.
type NonceKey struct {
	Chain  string
	Wallet string
}

// NonceSlot is the authoritative next-to-issue nonce for a (chain, wallet).
type NonceSlot struct {
	NextNonce    uint64
	LastSyncedAt time.Time
}

// InFlightKey identifies a specific (chain, wallet, nonce) transaction slot.
type InFlightKey struct {
	Chain  string
	Wallet string
	Nonce  uint64
}

// InFlightTx tracks one submitted transaction through its lifecycle.
type InFlightTx struct {
	TxHash      string
	State       TxState
	GasPrice    *big.Int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	RetryCount  int
	BlockNumber *uint64
}

// GasData is the per-chain cached gas recommendation.
type GasData struct {
	GasPriceWei      *big.Int
	BaseFeeWei       *big.Int
	PriorityFeeWei   *big.Int
	RecommendedWei   *big.Int
	GasTokenPriceUSD float64
	FetchedAt        time.Time
}

// RelayKind is the closed set of relay transports the dispatcher
// understands.
type RelayKind string

const (
	RelayPrivateA      RelayKind = "private_a"      // Flashbots-style
	RelayPrivateB      RelayKind = "private_b"      // Eden-style
	RelayPrivateShared RelayKind = "private_shared" // MEV-Share-style
	RelayPublic        RelayKind = "public_fallback"
)

// RelayConfig describes one configured relay endpoint.
type RelayConfig struct {
	Kind     RelayKind
	Endpoint string
	Auth     string
	Priority int // lower value = higher priority
	Weight   int // [0,100], used for weighted tie-break among equal priority
}

// BundleTicket is the authoritative result of a successful submission.
type BundleTicket struct {
	TxHash               string
	RelayID              string
	SimulationID         string
	InclusionProbability float64 // [0,1]
	ETASeconds           int
	RelayDetails         string
}

// ProfitBreakdown records every component of a net-EV computation for
// audit, regardless of the outcome.
type ProfitBreakdown struct {
	RawEVUSD     float64
	GasUSD       float64
	FlashFeeUSD  float64
	SlippageUSD  float64
	TipUSD       float64
	HaircutUSD   float64
	NetEVUSD     float64
	MinEVUSD     float64
	IsProfitable bool
}
