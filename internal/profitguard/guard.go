// Package profitguard computes net expected value for a candidate
// opportunity and decides whether it clears the configured
// profitability bar (spec.md C4).
package profitguard

import (
	"fmt"
	"sync/atomic"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// Config is the profitability policy for one strategy/chain. It is
// hot-reloadable: callers always read the current snapshot via
// Guard.Config(), never a cached copy.
type Config struct {
	MaxSlippageBps    int
	HaircutPercentage float64
	MinEVUSD          float64
}

// Validate enforces the allowed ranges; callers must reject a config
// before installing it.
func (c Config) Validate() error {
	if c.MaxSlippageBps < 0 || c.MaxSlippageBps > 10_000 {
		return fmt.Errorf("profitguard: %w: max_slippage_bps=%d out of [0,10000]", types.ErrConfigInvalid, c.MaxSlippageBps)
	}
	if c.HaircutPercentage < 0 {
		return fmt.Errorf("profitguard: %w: haircut_percentage=%f must be >= 0", types.ErrConfigInvalid, c.HaircutPercentage)
	}
	if c.MinEVUSD < 0 {
		return fmt.Errorf("profitguard: %w: min_ev_usd=%f must be >= 0", types.ErrConfigInvalid, c.MinEVUSD)
	}
	return nil
}

// Guard evaluates net EV against a hot-reloadable config snapshot.
type Guard struct {
	cfg atomic.Pointer[Config]
}

// New builds a Guard with an initial, validated config.
func New(initial Config) (*Guard, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	g := &Guard{}
	g.cfg.Store(&initial)
	return g, nil
}

// Reload atomically swaps in a new config after validating it.
func (g *Guard) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfg.Store(&cfg)
	return nil
}

// Config returns the current config snapshot.
func (g *Guard) Config() Config {
	return *g.cfg.Load()
}

// Evaluate computes net EV for opp given its raw expected value and
// the dollar costs supplied by the caller (gas from C3, flash-loan
// fee and tip from the execution template), and reports whether it
// is positive and clears min_ev_usd.
func (g *Guard) Evaluate(rawEVUSD, gasUSD, flashFeeUSD, tipUSD float64) (bool, float64, types.ProfitBreakdown) {
	cfg := g.Config()

	slippageUSD := rawEVUSD * (float64(cfg.MaxSlippageBps) / 10_000.0)
	haircutUSD := rawEVUSD * (cfg.HaircutPercentage / 100.0)

	netEV := rawEVUSD - gasUSD - flashFeeUSD - slippageUSD - tipUSD - haircutUSD
	isProfitable := netEV > 0 && netEV >= cfg.MinEVUSD

	breakdown := types.ProfitBreakdown{
		RawEVUSD:     rawEVUSD,
		GasUSD:       gasUSD,
		FlashFeeUSD:  flashFeeUSD,
		SlippageUSD:  slippageUSD,
		TipUSD:       tipUSD,
		HaircutUSD:   haircutUSD,
		NetEVUSD:     netEV,
		MinEVUSD:     cfg.MinEVUSD,
		IsProfitable: isProfitable,
	}
	return isProfitable, netEV, breakdown
}

// SlippageEstimate returns the strategy-table default slippage
// fraction used when an opportunity has no better estimate.
func SlippageEstimate(strategy types.Strategy) float64 {
	switch strategy {
	case types.StrategyDexArb:
		return 0.005
	case types.StrategyTriangular:
		return 0.010
	case types.StrategyCrossChain:
		return 0.015
	case types.StrategySandwich:
		return 0.003
	default:
		return 0.005
	}
}
