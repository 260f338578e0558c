// Package gasoracle provides per-chain EIP-1559 gas pricing with
// multi-source fallback, a two-tier cache, and USD cost estimation
// (spec.md C3).
package gasoracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

const weiPerEther = 1e18

// Source identifies where a gas reading came from. Sources are tried
// in the order configured per chain; the first success wins.
type Source int

const (
	SourceBlockHistory Source = iota
	SourceChainOracle
	SourceDirectRPC
	SourceExternalAPI
)

// Fetcher retrieves a raw gas reading for chain from one source. The
// oracle owns adjustment and caching; fetchers only report what the
// source observed.
type Fetcher interface {
	Fetch(ctx context.Context, chain string) (baseFeeWei, priorityFeeWei *big.Int, err error)
}

// ChainConfig holds the per-chain adjustment pipeline and cache
// policy. Defaults mirror the reference implementation's conservative
// per-chain base fees.
type ChainConfig struct {
	Sources               []Source
	CacheTTL              time.Duration
	BaseFeeMultiplier     float64
	MaxGasPriceWei        *big.Int
	GasOverheadPercentage float64
	GasTokenPriceUSD      float64
}

// PriceFeed supplies the gas token's USD spot price; a real deployment
// wires this to an on-chain or external price oracle.
type PriceFeed interface {
	SpotPriceUSD(ctx context.Context, chain string) (float64, error)
}

type cachedReading struct {
	data   types.GasData
	cached time.Time
}

// Metrics is the slice of metrics.Recorder the oracle drives every
// time it resolves a fresh gas reading.
type Metrics interface {
	SetGasPriceGwei(chain string, gwei float64)
}

type noopMetrics struct{}

func (noopMetrics) SetGasPriceGwei(string, float64) {}

// Oracle fetches, adjusts, and caches GasData per chain.
type Oracle struct {
	fetchers map[Source]Fetcher
	configs  map[string]ChainConfig
	prices   PriceFeed
	metrics  Metrics

	local *lru.Cache[string, cachedReading]

	mu     sync.RWMutex
	shared map[string]cachedReading // shared tier stand-in (e.g. Redis-backed in a multi-replica deployment)
}

// New builds an Oracle. fetchers maps each Source this deployment
// supports to its implementation; configs gives the per-chain policy.
func New(fetchers map[Source]Fetcher, configs map[string]ChainConfig, prices PriceFeed) *Oracle {
	local, _ := lru.New[string, cachedReading](256)
	return &Oracle{
		fetchers: fetchers,
		configs:  configs,
		prices:   prices,
		metrics:  noopMetrics{},
		local:    local,
		shared:   make(map[string]cachedReading),
	}
}

// WithMetrics attaches a Recorder the oracle reports its recommended
// gas price to; it returns o for chaining at construction time.
func (o *Oracle) WithMetrics(m Metrics) *Oracle {
	if m != nil {
		o.metrics = m
	}
	return o
}

// Get returns GasData for chain, trying sources in configured order
// and falling back to the last known value (if younger than
// 2*cache_ttl) when every source fails.
func (o *Oracle) Get(ctx context.Context, chain string) (types.GasData, error) {
	cfg, ok := o.configs[chain]
	if !ok {
		return types.GasData{}, fmt.Errorf("gasoracle: no config for chain %s", chain)
	}

	if v, ok := o.local.Get(chain); ok && time.Since(v.cached) < cfg.CacheTTL {
		return v.data, nil
	}
	if v, ok := o.sharedGet(chain); ok && time.Since(v.cached) < cfg.CacheTTL {
		o.local.Add(chain, v)
		return v.data, nil
	}

	data, err := o.fetchFresh(ctx, chain, cfg)
	if err == nil {
		o.store(chain, data)
		return data, nil
	}

	if stale, ok := o.freshestKnown(chain); ok && time.Since(stale.cached) < 2*cfg.CacheTTL {
		return stale.data, nil
	}
	return types.GasData{}, fmt.Errorf("gasoracle: %w: %v", types.ErrGasUnavailable, err)
}

func (o *Oracle) sharedGet(chain string) (cachedReading, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.shared[chain]
	return v, ok
}

func (o *Oracle) freshestKnown(chain string) (cachedReading, bool) {
	if v, ok := o.local.Get(chain); ok {
		return v, true
	}
	return o.sharedGet(chain)
}

func (o *Oracle) store(chain string, data types.GasData) {
	reading := cachedReading{data: data, cached: time.Now()}
	o.local.Add(chain, reading)
	o.mu.Lock()
	o.shared[chain] = reading
	o.mu.Unlock()

	gwei := new(big.Float).Quo(new(big.Float).SetInt(data.RecommendedWei), big.NewFloat(1e9))
	gweiF, _ := gwei.Float64()
	o.metrics.SetGasPriceGwei(chain, gweiF)
}

func (o *Oracle) fetchFresh(ctx context.Context, chain string, cfg ChainConfig) (types.GasData, error) {
	var lastErr error
	for _, src := range cfg.Sources {
		fetcher, ok := o.fetchers[src]
		if !ok {
			continue
		}
		baseFee, priorityFee, err := fetcher.Fetch(ctx, chain)
		if err != nil {
			lastErr = err
			continue
		}
		return o.adjust(ctx, chain, cfg, baseFee, priorityFee)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sources configured for chain %s", chain)
	}
	return types.GasData{}, lastErr
}

// adjust runs the pipeline: recommended = min(max_cap, base_fee *
// multiplier) + priority_fee, then scaled by (1 + overhead%).
func (o *Oracle) adjust(ctx context.Context, chain string, cfg ChainConfig, baseFee, priorityFee *big.Int) (types.GasData, error) {
	adjustedBase := mulFloat(baseFee, cfg.BaseFeeMultiplier)
	if cfg.MaxGasPriceWei != nil && adjustedBase.Cmp(cfg.MaxGasPriceWei) > 0 {
		adjustedBase = new(big.Int).Set(cfg.MaxGasPriceWei)
	}

	recommended := new(big.Int).Add(adjustedBase, priorityFee)
	if cfg.GasOverheadPercentage > 0 {
		recommended = mulFloat(recommended, 1+cfg.GasOverheadPercentage/100.0)
	}

	tokenPrice := cfg.GasTokenPriceUSD
	if o.prices != nil {
		if p, err := o.prices.SpotPriceUSD(ctx, chain); err == nil {
			tokenPrice = p
		}
	}

	return types.GasData{
		GasPriceWei:      adjustedBase,
		BaseFeeWei:       baseFee,
		PriorityFeeWei:   priorityFee,
		RecommendedWei:   recommended,
		GasTokenPriceUSD: tokenPrice,
		FetchedAt:        time.Now(),
	}, nil
}

// mulFloat scales a wei amount by a float factor without losing
// precision beyond float64's mantissa, matching the reference
// implementation's f64-based adjustment arithmetic.
func mulFloat(wei *big.Int, factor float64) *big.Int {
	f := new(big.Float).SetInt(wei)
	f.Mul(f, big.NewFloat(factor))
	result, _ := f.Int(nil)
	return result
}

// EstimateCostUSD converts a gas limit into a USD cost using the
// chain's current recommended gas price and gas-token spot price.
func (o *Oracle) EstimateCostUSD(ctx context.Context, chain string, gasLimit uint64) (float64, error) {
	data, err := o.Get(ctx, chain)
	if err != nil {
		return 0, err
	}
	gasPriceWei := new(big.Float).SetInt(data.RecommendedWei)
	limit := new(big.Float).SetUint64(gasLimit)
	usd := new(big.Float).Mul(gasPriceWei, limit)
	usd.Mul(usd, big.NewFloat(data.GasTokenPriceUSD))
	usd.Quo(usd, big.NewFloat(weiPerEther))
	out, _ := usd.Float64()
	return out, nil
}
