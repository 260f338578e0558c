// Package rpcpool manages N RPC endpoints per chain: weighted
// round-robin selection among healthy endpoints, per-endpoint rate
// limiting, circuit breaking, multi-probe health checks, and k-of-n
// quorum reads.
package rpcpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// acquireRetryBackoff is the pause between selection attempts when no
// endpoint currently admits a permit.
const acquireRetryBackoff = 10 * time.Millisecond

type endpointState struct {
	cfg      types.Endpoint
	provider Provider
	limiter  *rate.Limiter
	breaker  *breaker

	mu     sync.RWMutex
	health types.EndpointHealth
}

func newEndpointState(cfg types.Endpoint, provider Provider) *endpointState {
	return &endpointState{
		cfg:      cfg,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxRPS), int(cfg.MaxRPS)+1),
		breaker:  newBreaker(),
		health:   types.EndpointHealth{Status: types.StatusHealthy},
	}
}

func (e *endpointState) snapshotHealth() types.EndpointHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.health
	state, openedAt := e.breaker.snapshot()
	h.BreakerState = state
	h.LastTransition = openedAt
	return h
}

// admits reports whether this endpoint can currently take traffic:
// status healthy, breaker closed/half-open, and the token bucket has
// a spare permit.
func (e *endpointState) admits() bool {
	e.mu.RLock()
	status := e.health.Status
	e.mu.RUnlock()

	if status != types.StatusHealthy {
		return false
	}
	if !e.breaker.allow() {
		return false
	}
	return e.limiter.Allow()
}

func (e *endpointState) recordOutcome(ok bool, latencyMs float64, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ok {
		e.health.SuccessCount++
		e.breaker.recordSuccess()
	} else {
		e.health.FailureCount++
		e.health.LastError = errMsg
		e.breaker.recordFailure()
	}
	if e.health.EWMALatencyMs == 0 {
		e.health.EWMALatencyMs = latencyMs
	} else {
		const alpha = 0.2
		e.health.EWMALatencyMs = alpha*latencyMs + (1-alpha)*e.health.EWMALatencyMs
	}
}

// Metrics is the slice of metrics.Recorder the pool drives from its
// background health probes.
type Metrics interface {
	ObserveRPCLatencyMs(chain, method string, ms float64)
	SetLastBlock(chain string, block uint64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRPCLatencyMs(string, string, float64) {}
func (noopMetrics) SetLastBlock(string, uint64)                 {}

// Pool fans requests out across the configured endpoints of each
// chain. It uniquely owns endpoint state; callers never hold a
// pointer to it across a suspension point.
type Pool struct {
	mu        sync.RWMutex
	endpoints map[string][]*endpointState // chain -> endpoints
	rrCursor  map[string]int
	metrics   Metrics

	probeInterval time.Duration
	probeTimeout  time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a pool from the supplied endpoints, keyed by their Chain
// field, each paired with an already-dialed Provider.
func New(pairs map[types.Endpoint]Provider) *Pool {
	p := &Pool{
		endpoints:     make(map[string][]*endpointState),
		rrCursor:      make(map[string]int),
		metrics:       noopMetrics{},
		probeInterval: 30 * time.Second,
		probeTimeout:  5 * time.Second,
		stopCh:        make(chan struct{}),
	}
	for cfg, provider := range pairs {
		p.endpoints[cfg.Chain] = append(p.endpoints[cfg.Chain], newEndpointState(cfg, provider))
	}
	return p
}

// WithMetrics attaches a Recorder the pool reports probe latency and
// last-observed block height to; it returns p for chaining at
// construction time.
func (p *Pool) WithMetrics(m Metrics) *Pool {
	if m != nil {
		p.metrics = m
	}
	return p
}

// StartHealthLoop launches the background probe loop. Call once; it
// runs until Stop is invoked.
func (p *Pool) StartHealthLoop() {
	go func() {
		ticker := time.NewTicker(p.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.probeAll()
			}
		}
	}()
}

// Stop halts the background probe loop.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Acquire selects one admissible endpoint for chain via weighted
// round-robin, retrying up to 2*len(endpoints) times with a 10ms
// backoff between attempts before giving up.
func (p *Pool) Acquire(chain string) (Provider, error) {
	p.mu.RLock()
	all := p.endpoints[chain]
	p.mu.RUnlock()
	if len(all) == 0 {
		return nil, fmt.Errorf("chain %s: %w", chain, types.ErrNoHealthyEndpoint)
	}

	maxAttempts := 2 * len(all)
	var picked *endpointState
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(acquireRetryBackoff), uint64(maxAttempts-1))
	_ = backoff.Retry(func() error {
		if ep := p.pickWeighted(chain, all); ep != nil {
			picked = ep
			return nil
		}
		return types.ErrNoHealthyEndpoint
	}, bo)
	if picked == nil {
		return nil, fmt.Errorf("chain %s: %w", chain, types.ErrNoHealthyEndpoint)
	}
	return picked.provider, nil
}

// pickWeighted runs one weighted-round-robin pass: it walks endpoints
// starting at the chain's rotating cursor, returning the first
// admissible one, weighted by favoring higher-weight endpoints via a
// single random draw among the currently-admitting set.
func (p *Pool) pickWeighted(chain string, all []*endpointState) *endpointState {
	p.mu.Lock()
	cursor := p.rrCursor[chain]
	p.rrCursor[chain] = (cursor + 1) % len(all)
	p.mu.Unlock()

	var candidates []*endpointState
	var totalWeight int
	for i := 0; i < len(all); i++ {
		ep := all[(cursor+i)%len(all)]
		if ep.admits() {
			w := ep.cfg.Weight
			if w <= 0 {
				w = 1
			}
			totalWeight += w
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) == 1 {
		return candidates[0]
	}

	draw := rand.Intn(totalWeight)
	for _, ep := range candidates {
		w := ep.cfg.Weight
		if w <= 0 {
			w = 1
		}
		if draw < w {
			return ep
		}
		draw -= w
	}
	return candidates[len(candidates)-1]
}

// AcquireAllHealthy returns every endpoint currently in Healthy status
// for chain whose breaker is not Open, without rate-limit admission —
// used for fan-out reads such as QuorumCall.
func (p *Pool) AcquireAllHealthy(chain string) []Provider {
	p.mu.RLock()
	all := p.endpoints[chain]
	p.mu.RUnlock()

	var out []Provider
	for _, ep := range all {
		h := ep.snapshotHealth()
		if h.Status == types.StatusHealthy && h.BreakerState != types.BreakerOpen {
			out = append(out, ep.provider)
		}
	}
	return out
}

// QuorumResult groups a read's outcome by equality.
type QuorumResult struct {
	Value interface{}
	Count int
}

// QuorumCall fans op out to every healthy provider of chain, groups
// results by equality, and returns the largest group's value iff its
// size is >= k. k<=0 defaults to ceil(2n/3). op must be idempotent and
// deterministic since it may be invoked concurrently against multiple
// providers.
func (p *Pool) QuorumCall(ctx context.Context, chain string, k int, op func(context.Context, Provider) (interface{}, error)) (interface{}, error) {
	providers := p.AcquireAllHealthy(chain)
	n := len(providers)
	if n == 0 {
		return nil, fmt.Errorf("chain %s: %w", chain, types.ErrNoHealthyEndpoint)
	}
	if k <= 0 {
		k = (2*n + 2) / 3 // ceil(2n/3)
	}

	type result struct {
		val interface{}
		err error
	}
	results := make([]result, n)
	var g errgroup.Group
	for i, prov := range providers {
		i, prov := i, prov
		g.Go(func() error {
			v, err := op(ctx, prov)
			results[i] = result{val: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[interface{}]int)
	for _, r := range results {
		if r.err == nil {
			counts[r.val]++
		}
	}

	var best interface{}
	bestCount := 0
	for v, c := range counts {
		if c > bestCount {
			best = v
			bestCount = c
		}
	}
	if bestCount >= k {
		return best, nil
	}
	return nil, fmt.Errorf("chain %s k=%d got %d/%d: %w", chain, k, bestCount, n, types.ErrQuorumFailed)
}

// Metrics returns a per-chain, per-endpoint health snapshot for
// exporting to the metrics collaborator.
func (p *Pool) Metrics() map[string][]types.EndpointHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]types.EndpointHealth, len(p.endpoints))
	for chain, eps := range p.endpoints {
		for _, ep := range eps {
			out[chain] = append(out[chain], ep.snapshotHealth())
		}
	}
	return out
}
