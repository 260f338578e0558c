package rpcpool

import (
	"sync"
	"time"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// breakerTrip is the consecutive-failure count after which Closed
// transitions to Open.
const breakerTrip = 5

// breakerCooldown is how long Open blocks traffic before trying
// HalfOpen.
const breakerCooldown = 60 * time.Second

// breakerCloseThreshold is the number of consecutive HalfOpen
// successes required to close the breaker.
const breakerCloseThreshold = 3

// breaker is a per-endpoint circuit breaker. State transitions are
// serialized under mu so concurrent probes and request outcomes never
// race each other.
type breaker struct {
	mu                  sync.Mutex
	state               types.BreakerState
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
}

func newBreaker() *breaker {
	return &breaker{state: types.BreakerClosed}
}

// allow reports whether a request may be attempted right now, and
// performs the Open -> HalfOpen transition if the cooldown elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case types.BreakerClosed, types.BreakerHalfOpen:
		return true
	case types.BreakerOpen:
		if time.Since(b.openedAt) >= breakerCooldown {
			b.state = types.BreakerHalfOpen
			b.consecutiveSuccess = 0
			return true
		}
		return false
	default:
		return false
	}
}

// recordSuccess updates state following a successful request.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	switch b.state {
	case types.BreakerHalfOpen:
		b.consecutiveSuccess++
		if b.consecutiveSuccess >= breakerCloseThreshold {
			b.state = types.BreakerClosed
			b.consecutiveSuccess = 0
		}
	case types.BreakerOpen:
		// shouldn't normally happen (allow() gates this), but stay safe.
		b.state = types.BreakerHalfOpen
		b.consecutiveSuccess = 1
	}
}

// recordFailure updates state following a failed request.
func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccess = 0
	switch b.state {
	case types.BreakerHalfOpen:
		b.trip()
	case types.BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= breakerTrip {
			b.trip()
		}
	}
}

func (b *breaker) trip() {
	b.state = types.BreakerOpen
	b.openedAt = time.Now()
	b.consecutiveFailures = 0
}

func (b *breaker) snapshot() (types.BreakerState, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.openedAt
}
