package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

func TestBuild_DecodesLegsIntoTemplates(t *testing.T) {
	opp := types.Opportunity{
		ID:       "opp-1",
		Strategy: types.StrategyDexArb,
		Metadata: map[string]string{
			"legs": `[
				{"to":"0x1111111111111111111111111111111111111111","data":"0xa9059cbb","value_wei":"0","gas_limit":60000},
				{"to":"0x2222222222222222222222222222222222222222","data":"0x1234","value_wei":"1000","gas_limit":120000}
			]`,
		},
	}

	plan, err := New().Build(context.Background(), opp)
	require.NoError(t, err)
	require.Len(t, plan.Templates, 2)
	assert.False(t, plan.Atomic)
	assert.Equal(t, uint64(60000), plan.Templates[0].GasLimit)
	assert.Equal(t, "1000", plan.Templates[1].ValueWei.String())
}

func TestBuild_SandwichStrategyIsAtomic(t *testing.T) {
	opp := types.Opportunity{
		ID:       "opp-2",
		Strategy: types.StrategySandwich,
		Metadata: map[string]string{
			"legs": `[{"to":"0x1111111111111111111111111111111111111111","data":"0xab","value_wei":"0","gas_limit":50000}]`,
		},
	}

	plan, err := New().Build(context.Background(), opp)
	require.NoError(t, err)
	assert.True(t, plan.Atomic)
}

func TestBuild_MissingLegsReturnsError(t *testing.T) {
	opp := types.Opportunity{ID: "opp-3", Strategy: types.StrategyDexArb}
	_, err := New().Build(context.Background(), opp)
	require.Error(t, err)
}

func TestBuild_InvalidCalldataHexReturnsError(t *testing.T) {
	opp := types.Opportunity{
		ID:       "opp-4",
		Strategy: types.StrategyDexArb,
		Metadata: map[string]string{
			"legs": `[{"to":"0x1111111111111111111111111111111111111111","data":"zzzz","value_wei":"0","gas_limit":50000}]`,
		},
	}
	_, err := New().Build(context.Background(), opp)
	require.Error(t, err)
}
