package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// A strategy absent from strategies.enabled must never get a registered
// builder; spec.md §3 requires that no bundle is ever sent for a
// disabled strategy.
func TestEnabledStrategies_FiltersOutDisabledStrategies(t *testing.T) {
	got := enabledStrategies([]string{"dex-arb", "liquidation"})
	assert.ElementsMatch(t, []types.Strategy{types.StrategyDexArb, types.StrategyLiquidation}, got)
	assert.NotContains(t, got, types.StrategySandwich)
}

func TestEnabledStrategies_EmptyListEnablesNothing(t *testing.T) {
	got := enabledStrategies(nil)
	assert.Empty(t, got)
}

func TestEnabledStrategies_UnknownNameIsIgnored(t *testing.T) {
	got := enabledStrategies([]string{"dex-arb", "not-a-real-strategy"})
	assert.Equal(t, []types.Strategy{types.StrategyDexArb}, got)
}
