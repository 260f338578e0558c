// Package dispatcher submits transactions and bundles through a
// closed taxonomy of relay variants with sequential fallback
// (spec.md C6).
package dispatcher

import (
	"context"
	"fmt"
	"strings"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// SimulationResult carries the outcome of a relay's pre-submit
// simulation, when the relay supports one.
type SimulationResult struct {
	Success   bool
	ProfitWei *int64 // nil when the relay doesn't report simulated profit
	Error     string
}

// Relay is the common contract every relay variant implements:
// simulate (if supported), submit, and report health. Each concrete
// relay owns its own transport.
type Relay interface {
	Kind() types.RelayKind
	Priority() int
	SupportsSimulation() bool
	SupportsBundles() bool
	Simulate(ctx context.Context, txs []*gethtypes.Transaction) (SimulationResult, error)
	Submit(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error)
	Health(ctx context.Context) bool
}

// requireHTTPS enforces the spec's HTTPS-only rule for private
// relays at construction time.
func requireHTTPS(endpoint string) error {
	if !strings.HasPrefix(endpoint, "https://") {
		return fmt.Errorf("dispatcher: relay endpoint %q must use HTTPS", endpoint)
	}
	return nil
}

// simulateOrReject implements the submit-path contract shared by the
// three private relays: simulate, bail on failure, then let the
// caller submit.
func simulateOrReject(ctx context.Context, r Relay, txs []*gethtypes.Transaction) error {
	if !r.SupportsSimulation() {
		return nil
	}
	result, err := r.Simulate(ctx, txs)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSimulationFailed, err)
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", types.ErrSimulationFailed, result.Error)
	}
	return nil
}
