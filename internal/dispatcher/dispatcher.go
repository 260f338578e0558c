package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"

	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// Metrics is the slice of metrics.Recorder the dispatcher drives as
// bundles are submitted to relays.
type Metrics interface {
	IncBundlesSent()
}

type noopMetrics struct{}

func (noopMetrics) IncBundlesSent() {}

// Dispatcher holds the configured relay set and walks it in priority
// order on every send, falling through to the next relay whenever one
// rejects (simulation failure or submit error). Relay Health is not
// consulted before a send.
type Dispatcher struct {
	relays  []Relay
	metrics Metrics
}

// New builds a Dispatcher with relays sorted by ascending Priority()
// (lower value = tried first, matching the relay taxonomy's priority
// field).
func New(relays []Relay) *Dispatcher {
	sorted := make([]Relay, len(relays))
	copy(sorted, relays)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Dispatcher{relays: sorted, metrics: noopMetrics{}}
}

// WithMetrics attaches a Recorder the dispatcher reports accepted
// bundles to; it returns d for chaining at construction time.
func (d *Dispatcher) WithMetrics(m Metrics) *Dispatcher {
	if m != nil {
		d.metrics = m
	}
	return d
}

// SendTransaction submits a single transaction as a one-element
// bundle, returning the first relay's successful ticket.
func (d *Dispatcher) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) (types.BundleTicket, error) {
	return d.SendBundle(ctx, []*gethtypes.Transaction{tx})
}

// SendBundle tries each configured relay in priority order; a relay
// that returns ErrSimulationFailed or fails to submit is skipped in
// favor of the next one. If every relay fails, ErrAllRelaysFailed is
// returned.
func (d *Dispatcher) SendBundle(ctx context.Context, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	return d.sendVia(ctx, d.relays, txs)
}

// SendBundleVia is SendBundle restricted to a caller-supplied relay
// subset, walked in the order given. Atomic strategies (sandwich, JIT)
// use this with PublicFallback excluded, since a fall-through to the
// public mempool would break their all-or-nothing guarantee.
func (d *Dispatcher) SendBundleVia(ctx context.Context, relays []Relay, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	return d.sendVia(ctx, relays, txs)
}

func (d *Dispatcher) sendVia(ctx context.Context, relays []Relay, txs []*gethtypes.Transaction) (types.BundleTicket, error) {
	var errs []error
	for _, relay := range relays {
		ticket, err := relay.Submit(ctx, txs)
		if err == nil {
			d.metrics.IncBundlesSent()
			return ticket, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", relay.Kind(), err))
	}
	return types.BundleTicket{}, fmt.Errorf("%w: %v", types.ErrAllRelaysFailed, errors.Join(errs...))
}

// HealthAll returns the health of every configured relay, keyed by
// kind, for monitoring and pre-flight checks.
func (d *Dispatcher) HealthAll(ctx context.Context) map[types.RelayKind]bool {
	out := make(map[types.RelayKind]bool, len(d.relays))
	for _, relay := range d.relays {
		out[relay.Kind()] = relay.Health(ctx)
	}
	return out
}

// Relays exposes the configured, priority-sorted relay list; used by
// atomic multi-tx strategy templates (C7) to exclude PublicFallback.
func (d *Dispatcher) Relays() []Relay {
	return d.relays
}
