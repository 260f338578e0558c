package noncemgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// cacheTTL bounds how long a locally cached next_nonce is trusted
// before a cold read re-seeds from the shared coordinator.
const cacheTTL = 10 * time.Second

// Coordinator is the shared, cache-backed (chain,wallet)->next_nonce
// store described in SPEC_FULL.md C8: a process-local LRU fast path
// backed by an optional Redis tier providing atomic INCR across
// replicas. With no Redis client, it degrades to a single-process
// in-memory counter (fine for a single-replica deployment).
type Coordinator struct {
	local *lru.Cache[types.NonceKey, cachedNonce]
	rdb   *redis.Client

	mu sync.Mutex // guards the process-local fallback counters
}

type cachedNonce struct {
	next   uint64
	cached time.Time
}

// NewCoordinator builds a coordinator. rdb may be nil, in which case
// only the process-local tier is used.
func NewCoordinator(rdb *redis.Client) *Coordinator {
	cache, _ := lru.New[types.NonceKey, cachedNonce](4096)
	return &Coordinator{local: cache, rdb: rdb}
}

func redisKey(key types.NonceKey) string {
	return fmt.Sprintf("nonce:next:%s:%s", key.Chain, key.Wallet)
}

// Peek returns the cached next_nonce if fresh (age <= cacheTTL) and a
// bool reporting the hit. It never touches Redis or on-chain state.
func (c *Coordinator) Peek(key types.NonceKey) (uint64, bool) {
	v, ok := c.local.Get(key)
	if !ok || time.Since(v.cached) > cacheTTL {
		return 0, false
	}
	return v.next, true
}

// Seed establishes next_nonce for key, used on cold start or cache
// miss when the on-chain transaction count is authoritative.
func (c *Coordinator) Seed(ctx context.Context, key types.NonceKey, nextNonce uint64) error {
	if c.rdb != nil {
		if err := c.rdb.SetNX(ctx, redisKey(key), nextNonce, 0).Err(); err != nil {
			return fmt.Errorf("seed nonce in redis: %w", err)
		}
	}
	c.local.Add(key, cachedNonce{next: nextNonce, cached: time.Now()})
	return nil
}

// Increment atomically reserves the current next_nonce for key and
// advances it by one, returning the reserved value. When a Redis tier
// is configured it is authoritative (INCR is atomic across replicas);
// otherwise the process-local counter is authoritative, protected by
// mu to remain linearizable within this process.
func (c *Coordinator) Increment(ctx context.Context, key types.NonceKey) (uint64, error) {
	if c.rdb != nil {
		// INCR returns the value *after* increment; the slot was seeded
		// with next_nonce, so the pre-increment value is the nonce to
		// reserve and INCR-1 recovers it without a second round trip.
		newVal, err := c.rdb.Incr(ctx, redisKey(key)).Result()
		if err != nil {
			return 0, fmt.Errorf("increment nonce in redis: %w", err)
		}
		reserved := uint64(newVal) - 1
		c.local.Add(key, cachedNonce{next: uint64(newVal), cached: time.Now()})
		return reserved, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.local.Get(key)
	if !ok {
		return 0, fmt.Errorf("coordinator: nonce slot for %s/%s not seeded", key.Chain, key.Wallet)
	}
	reserved := v.next
	c.local.Add(key, cachedNonce{next: reserved + 1, cached: time.Now()})
	return reserved, nil
}

// NextNonce reports the current next_nonce value for key, for testing
// and observability; it does not mutate state.
func (c *Coordinator) NextNonce(ctx context.Context, key types.NonceKey) (uint64, error) {
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, redisKey(key)).Uint64()
		if err != nil {
			return 0, fmt.Errorf("read nonce from redis: %w", err)
		}
		return val, nil
	}
	v, ok := c.local.Get(key)
	if !ok {
		return 0, fmt.Errorf("coordinator: nonce slot for %s/%s not seeded", key.Chain, key.Wallet)
	}
	return v.next, nil
}
