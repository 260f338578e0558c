package dispatcher

import (
	"context"
	"fmt"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// Congestion buckets the network's current base fee pressure, used to
// pick the public relay's inclusion-probability band.
type Congestion int

const (
	CongestionLow Congestion = iota
	CongestionMedium
	CongestionHigh
)

// Sender submits a single signed transaction over standard JSON-RPC.
// *ethclient.Client satisfies this via SendTransaction.
type Sender interface {
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// CongestionEstimator reports the current network congestion band for
// a chain, typically derived from recent base fee history.
type CongestionEstimator interface {
	Estimate(ctx context.Context, chain string) (Congestion, error)
}

// PublicFallbackRelay sends transactions over the standard public
// mempool. It never simulates and never bundles: a "bundle" submitted
// here is expanded into N sequential individual sends. Spec's Open
// Question decision: if at least one leg lands, the ticket reports
// overall success (partial success counts as success for this relay).
type PublicFallbackRelay struct {
	Chain      string
	sender     Sender
	congestion CongestionEstimator
	priority   int
}

func NewPublicFallbackRelay(chain string, sender Sender, congestion CongestionEstimator, priority int) *PublicFallbackRelay {
	return &PublicFallbackRelay{Chain: chain, sender: sender, congestion: congestion, priority: priority}
}

func (r *PublicFallbackRelay) Kind() types.RelayKind    { return types.RelayPublic }
func (r *PublicFallbackRelay) Priority() int            { return r.priority }
func (r *PublicFallbackRelay) SupportsSimulation() bool { return false }
func (r *PublicFallbackRelay) SupportsBundles() bool    { return false }

func (r *PublicFallbackRelay) Simulate(ctx context.Context, txs []*gethtypes.Transaction) (SimulationResult, error) {
	return SimulationResult{Success: true}, nil
}

func (r *PublicFallbackRelay) inclusionBand(ctx context.Context) (float64, int) {
	level := CongestionLow
	if r.congestion != nil {
		if est, err := r.congestion.Estimate(ctx, r.Chain); err == nil {
			level = est
		}
	}
	switch level {
	case CongestionLow:
		return 0.95, 15
	case CongestionMedium:
		return 0.80, 45
	default:
		return 0.60, 120
	}
}

// Submit expands txs into N sequential standard sends. A partial
// success (at least one tx accepted by the mempool) counts as an
// overall success.
func (r *PublicFallbackRelay) Submit(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	if len(txs) == 0 {
		return types.BundleTicket{}, fmt.Errorf("dispatcher: empty bundle submitted to public fallback relay")
	}

	var sent int
	var lastErr error
	for _, tx := range txs {
		if err := r.sender.SendTransaction(ctx, tx); err != nil {
			lastErr = err
			continue
		}
		sent++
	}

	if sent == 0 {
		return types.BundleTicket{}, fmt.Errorf("%w: %v", types.ErrRelayRejected, lastErr)
	}

	prob, eta := r.inclusionBand(ctx)
	return types.BundleTicket{
		TxHash:               txs[0].Hash().Hex(),
		RelayID:              string(types.RelayPublic),
		RelayDetails:         fmt.Sprintf("public_sequential:%d/%d", sent, len(txs)),
		InclusionProbability: prob,
		ETASeconds:           eta,
	}, nil
}

func (r *PublicFallbackRelay) Health(ctx context.Context) bool {
	if r.sender == nil {
		return false
	}
	// Standard RPC has no single health endpoint; liveness is
	// inferred at call time by the connection pool (C1) instead.
	return true
}
