package rpcpool

import (
	"context"
	"sync"
	"time"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// probeAll runs the three-probe health check against every endpoint of
// every chain concurrently; each endpoint's own state transition is
// still serialized through its lock.
func (p *Pool) probeAll() {
	p.mu.RLock()
	var all []*endpointState
	for _, eps := range p.endpoints {
		all = append(all, eps...)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ep := range all {
		wg.Add(1)
		go func(ep *endpointState) {
			defer wg.Done()
			p.probeOne(ep)
		}(ep)
	}
	wg.Wait()
}

// probeOne runs block_number, net_version, and get_block(latest)
// concurrently against one endpoint; it is Healthy iff at least 2 of
// the 3 succeed, Degraded on lower health with at least one success,
// and Quarantined when all three fail.
func (p *Pool) probeOne(ep *endpointState) {
	ctx, cancel := context.WithTimeout(context.Background(), p.probeTimeout)
	defer cancel()

	results := make(chan bool, 3)
	start := time.Now()

	go func() {
		block, err := ep.provider.BlockNumber(ctx)
		if err == nil {
			p.metrics.SetLastBlock(ep.cfg.Chain, block)
		}
		results <- err == nil
	}()
	go func() {
		_, err := ep.provider.NetworkID(ctx)
		results <- err == nil
	}()
	go func() {
		_, err := ep.provider.BlockByNumber(ctx, nil)
		results <- err == nil
	}()

	successes := 0
	for i := 0; i < 3; i++ {
		if <-results {
			successes++
		}
	}
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0
	p.metrics.ObserveRPCLatencyMs(ep.cfg.Chain, "health_probe", latencyMs)

	ep.mu.Lock()
	switch {
	case successes >= 2:
		ep.health.Status = types.StatusHealthy
	case successes >= 1:
		ep.health.Status = types.StatusDegraded
	default:
		ep.health.Status = types.StatusQuarantined
	}
	if ep.health.EWMALatencyMs == 0 {
		ep.health.EWMALatencyMs = latencyMs
	} else {
		const alpha = 0.2
		ep.health.EWMALatencyMs = alpha*latencyMs + (1-alpha)*ep.health.EWMALatencyMs
	}
	ep.mu.Unlock()

	if successes >= 2 {
		ep.breaker.recordSuccess()
	} else {
		ep.breaker.recordFailure()
	}
}
