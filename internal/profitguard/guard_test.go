package profitguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

func s1Config() Config {
	return Config{MaxSlippageBps: 20, HaircutPercentage: 10, MinEVUSD: 5}
}

// S1: raw_ev=100, gas=10, flash_fee=2, tip=0.5 -> slippage=0.2,
// haircut=10, net_ev=77.3, accepted.
func TestEvaluate_S1ProfitableDexArbAccepted(t *testing.T) {
	g, err := New(s1Config())
	require.NoError(t, err)

	ok, netEV, breakdown := g.Evaluate(100, 10, 2, 0.5)
	assert.True(t, ok)
	assert.InDelta(t, 77.3, netEV, 0.0001)
	assert.InDelta(t, 0.2, breakdown.SlippageUSD, 0.0001)
	assert.InDelta(t, 10.0, breakdown.HaircutUSD, 0.0001)
	assert.True(t, breakdown.IsProfitable)
}

// S2: same as S1 but haircut=90% -> net_ev=-2.7, rejected.
func TestEvaluate_S2HaircutKills(t *testing.T) {
	cfg := s1Config()
	cfg.HaircutPercentage = 90
	g, err := New(cfg)
	require.NoError(t, err)

	ok, netEV, breakdown := g.Evaluate(100, 10, 2, 0.5)
	assert.False(t, ok)
	assert.InDelta(t, -2.7, netEV, 0.0001)
	assert.False(t, breakdown.IsProfitable)
}

// max_slippage_bps=10000 means slippage_usd=raw_ev, so net_ev<=0 and
// the opportunity is dropped (boundary behavior called out in the
// spec's invariant section).
func TestEvaluate_MaxSlippageBoundaryDropsOpportunity(t *testing.T) {
	cfg := Config{MaxSlippageBps: 10_000, HaircutPercentage: 0, MinEVUSD: 0}
	g, err := New(cfg)
	require.NoError(t, err)

	ok, netEV, _ := g.Evaluate(100, 0, 0, 0)
	assert.False(t, ok)
	assert.LessOrEqual(t, netEV, 0.0)
}

func TestConfigValidate_RejectsSlippageAboveTenThousandBps(t *testing.T) {
	_, err := New(Config{MaxSlippageBps: 10_001})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigInvalid)
}

func TestConfigValidate_RejectsNegativeThresholds(t *testing.T) {
	_, err := New(Config{MaxSlippageBps: 50, HaircutPercentage: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigInvalid)

	_, err = New(Config{MaxSlippageBps: 50, MinEVUSD: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConfigInvalid)
}

// Reload swaps the snapshot atomically and takes effect on the next
// Evaluate call without requiring a new Guard.
func TestReloadAppliesNewConfigImmediately(t *testing.T) {
	g, err := New(s1Config())
	require.NoError(t, err)

	require.NoError(t, g.Reload(Config{MaxSlippageBps: 0, HaircutPercentage: 0, MinEVUSD: 0}))

	ok, netEV, _ := g.Evaluate(100, 10, 2, 0.5)
	assert.True(t, ok)
	assert.InDelta(t, 87.5, netEV, 0.0001)
}

func TestReloadRejectsInvalidConfigWithoutMutatingSnapshot(t *testing.T) {
	g, err := New(s1Config())
	require.NoError(t, err)

	err = g.Reload(Config{MaxSlippageBps: 20_000})
	require.Error(t, err)

	// Prior config is still in effect.
	assert.Equal(t, s1Config(), g.Config())
}

func TestSlippageEstimateTable(t *testing.T) {
	assert.Equal(t, 0.005, SlippageEstimate(types.StrategyDexArb))
	assert.Equal(t, 0.010, SlippageEstimate(types.StrategyTriangular))
	assert.Equal(t, 0.015, SlippageEstimate(types.StrategyCrossChain))
	assert.Equal(t, 0.003, SlippageEstimate(types.StrategySandwich))
}
