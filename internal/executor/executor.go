// Package executor drains scored opportunities from the detector and
// carries each through gas estimation, profitability evaluation,
// nonce reservation, and relay dispatch (spec.md C7).
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/hefarica/arbitragexplus-ii/internal/detector"
	"github.com/hefarica/arbitragexplus-ii/internal/dispatcher"
	"github.com/hefarica/arbitragexplus-ii/internal/gasoracle"
	"github.com/hefarica/arbitragexplus-ii/internal/noncemgr"
	"github.com/hefarica/arbitragexplus-ii/internal/profitguard"
	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// gasLimitSafetyBuffer is added to every simulated gas limit before
// submission, per spec.md step 2 of the executor loop.
const gasLimitSafetyBuffer = 50_000

// TxTemplate is one unsigned leg of a strategy's execution plan.
type TxTemplate struct {
	To       string
	Data     []byte
	ValueWei *big.Int
	GasLimit uint64
}

// StrategyPlan is what a StrategyBuilder produces: an ordered set of
// tx templates and whether they must land atomically in one bundle.
type StrategyPlan struct {
	Templates []TxTemplate
	Atomic    bool // true for sandwich/JIT: forbids PublicFallback
}

// StrategyBuilder resolves an opportunity into a concrete execution
// plan for its strategy (swap, flash-loan, bridge-pair, liquidation,
// sandwich-pair, backrun, JIT add+remove).
type StrategyBuilder interface {
	Build(ctx context.Context, opp types.Opportunity) (StrategyPlan, error)
}

// Signer signs a built transaction for submission.
type Signer interface {
	SignTx(ctx context.Context, chain, wallet string, tx *gethtypes.Transaction) (*gethtypes.Transaction, error)
}

// Recorder persists InFlightTx lifecycle events and execution outcomes.
type Recorder interface {
	RecordAccepted(ctx context.Context, chain, wallet string, nonce uint64, ticket types.BundleTicket) error
	RecordDropped(ctx context.Context, oppID string, reason string) error
}

// Metrics is the minimal counter/gauge/histogram surface the executor
// drives; internal/metrics.Recorder implements this against
// Prometheus collectors.
type Metrics interface {
	IncOpportunitiesExecuted()
	IncTxSent()
	IncValidationFailure()
	ObserveExecutionLatencyMs(ms float64)
}

// Wallet identifies which signer/address executes a chain's strategies.
type Wallet struct {
	Chain   string
	Address string
}

// Executor wires C2-C6 together into the per-opportunity pipeline
// described by spec.md's executor loop.
type Executor struct {
	strategies map[types.Strategy]StrategyBuilder
	detector   *detector.Detector
	gas        *gasoracle.Oracle
	guard      *profitguard.Guard
	nonces     *noncemgr.Manager
	dispatch   *dispatcher.Dispatcher
	signer     Signer
	recorder   Recorder
	metrics    Metrics
	wallet     Wallet

	gasFlashFeeUSD map[types.Strategy]float64 // static flash-loan fee estimate per strategy
	tipUSD         float64
}

// New builds an Executor. gasFlashFeeUSD and tipUSD parameterize the
// profitability inputs that aren't derived from C3/C4 directly.
func New(
	strategies map[types.Strategy]StrategyBuilder,
	det *detector.Detector,
	gas *gasoracle.Oracle,
	guard *profitguard.Guard,
	nonces *noncemgr.Manager,
	dispatch *dispatcher.Dispatcher,
	signer Signer,
	recorder Recorder,
	metrics Metrics,
	wallet Wallet,
	gasFlashFeeUSD map[types.Strategy]float64,
	tipUSD float64,
) *Executor {
	return &Executor{
		strategies:     strategies,
		detector:       det,
		gas:            gas,
		guard:          guard,
		nonces:         nonces,
		dispatch:       dispatch,
		signer:         signer,
		recorder:       recorder,
		metrics:        metrics,
		wallet:         wallet,
		gasFlashFeeUSD: gasFlashFeeUSD,
		tipUSD:         tipUSD,
	}
}

// Run drains detector ticks on interval until ctx is cancelled. A
// shutdown signal stops new draining; in-flight ExecuteOne calls are
// left to complete or time out on their own deadlines.
func (e *Executor) Run(ctx context.Context, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := e.detector.Tick()
			for _, opp := range batch {
				go e.ExecuteOne(ctx, opp)
			}
		}
	}
}

// ExecuteOne carries one opportunity through the full pipeline.
// InsufficientProfit, QuorumFailed, and NoHealthyEndpoint are
// non-fatal: they are recorded and the loop moves on.
func (e *Executor) ExecuteOne(ctx context.Context, opp types.Opportunity) {
	start := time.Now()
	defer func() {
		e.metrics.ObserveExecutionLatencyMs(float64(time.Since(start).Milliseconds()))
		e.detector.CompleteExecution(opp.ID)
	}()

	builder, ok := e.strategies[opp.Strategy]
	if !ok {
		e.drop(ctx, opp, "no strategy builder registered")
		return
	}

	plan, err := builder.Build(ctx, opp)
	if err != nil {
		e.drop(ctx, opp, fmt.Sprintf("build plan: %v", err))
		return
	}
	if len(plan.Templates) == 0 {
		e.drop(ctx, opp, "empty strategy plan")
		return
	}

	gasData, err := e.gas.Get(ctx, opp.ChainID)
	if err != nil {
		e.nonFatal(ctx, opp, err)
		return
	}

	totalGasLimit := uint64(0)
	for _, tmpl := range plan.Templates {
		totalGasLimit += tmpl.GasLimit + gasLimitSafetyBuffer
	}
	gasUSD, err := e.gas.EstimateCostUSD(ctx, opp.ChainID, totalGasLimit)
	if err != nil {
		e.nonFatal(ctx, opp, err)
		return
	}

	flashFeeUSD := e.gasFlashFeeUSD[opp.Strategy]
	isProfitable, _, breakdown := e.guard.Evaluate(opp.EstGrossProfitUSD, gasUSD, flashFeeUSD, e.tipUSD)
	if !isProfitable {
		e.nonFatal(ctx, opp, fmt.Errorf("%w: net_ev=%.2f < min_ev=%.2f", types.ErrInsufficientProfit, breakdown.NetEVUSD, breakdown.MinEVUSD))
		return
	}

	// Atomic multi-tx strategies (sandwich, JIT) may never fall through
	// to PublicFallback; every other strategy may use the full,
	// priority-ordered relay set.
	sendRelays := e.dispatch.Relays()
	if plan.Atomic {
		restricted := make([]dispatcher.Relay, 0, len(sendRelays))
		for _, r := range sendRelays {
			if r.Kind() != types.RelayPublic {
				restricted = append(restricted, r)
			}
		}
		if len(restricted) == 0 {
			e.nonFatal(ctx, opp, fmt.Errorf("%w: no bundle-capable relay configured for atomic strategy", types.ErrAllRelaysFailed))
			return
		}
		sendRelays = restricted
	}

	signedTxs := make([]*gethtypes.Transaction, 0, len(plan.Templates))
	for _, tmpl := range plan.Templates {
		nonce, err := e.nonces.Reserve(ctx, opp.ChainID, e.wallet.Address)
		if err != nil {
			e.nonFatal(ctx, opp, err)
			return
		}
		to := common.HexToAddress(tmpl.To)
		unsigned := gethtypes.NewTx(&gethtypes.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Gas:      tmpl.GasLimit + gasLimitSafetyBuffer,
			GasPrice: gasData.RecommendedWei,
			Value:    valueOrZero(tmpl.ValueWei),
			Data:     tmpl.Data,
		})
		signed, err := e.signer.SignTx(ctx, opp.ChainID, e.wallet.Address, unsigned)
		if err != nil {
			e.nonFatal(ctx, opp, fmt.Errorf("sign tx: %w", err))
			return
		}
		signedTxs = append(signedTxs, signed)
	}

	ticket, err := e.dispatch.SendBundleVia(ctx, sendRelays, signedTxs)
	if err != nil {
		e.nonFatal(ctx, opp, err)
		return
	}

	for i, tx := range signedTxs {
		nonce := tx.Nonce()
		e.nonces.Register(opp.ChainID, e.wallet.Address, nonce, tx.Hash().Hex(), gasData.RecommendedWei)
		if i == 0 {
			if err := e.recorder.RecordAccepted(ctx, opp.ChainID, e.wallet.Address, nonce, ticket); err != nil {
				log.Printf("executor: record accepted for opp %s: %v", opp.ID, err)
			}
		}
	}

	e.metrics.IncOpportunitiesExecuted()
	e.metrics.IncTxSent()
}

func (e *Executor) drop(ctx context.Context, opp types.Opportunity, reason string) {
	e.metrics.IncValidationFailure()
	if err := e.recorder.RecordDropped(ctx, opp.ID, reason); err != nil {
		log.Printf("executor: record dropped for opp %s: %v", opp.ID, err)
	}
}

// nonFatal treats every execution error as non-fatal to the loop: the
// four known kinds below are recorded as drops, and any other error is
// logged and then recorded as a drop too.
func (e *Executor) nonFatal(ctx context.Context, opp types.Opportunity, err error) {
	switch {
	case errors.Is(err, types.ErrInsufficientProfit),
		errors.Is(err, types.ErrQuorumFailed),
		errors.Is(err, types.ErrNoHealthyEndpoint),
		errors.Is(err, types.ErrGasUnavailable):
		e.drop(ctx, opp, err.Error())
	default:
		log.Printf("executor: opp %s failed: %v", opp.ID, err)
		e.drop(ctx, opp, err.Error())
	}
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
