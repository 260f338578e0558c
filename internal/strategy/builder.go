// Package strategy turns a scored opportunity into the ordered
// transaction legs the executor signs and dispatches, generalizing
// the teacher's two-call "approve, then act" shape (blackhole.go's
// Swap) into one builder per spec.md strategy template.
package strategy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/hefarica/arbitragexplus-ii/internal/executor"
	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// legWire is the JSON shape an opportunity producer embeds in
// Opportunity.Metadata["legs"]: one pre-simulated call per array entry,
// in submission order.
type legWire struct {
	To       string `json:"to"`
	DataHex  string `json:"data"`
	ValueWei string `json:"value_wei"`
	GasLimit uint64 `json:"gas_limit"`
}

// atomicStrategies are the templates that must land as one bundle or
// not at all; spec.md forbids them from falling through to the public
// mempool.
var atomicStrategies = map[types.Strategy]bool{
	types.StrategySandwich: true,
	types.StrategyJIT:      true,
}

// Builder resolves an Opportunity's pre-serialized legs (deposited by
// the external producer in its Metadata) into a StrategyPlan. It does
// not itself know how to construct DEX/protocol-specific calldata —
// that responsibility sits with the producer that scored the
// opportunity, which already simulated the path.
type Builder struct{}

// New builds a Builder. It takes no configuration: every strategy
// template shares the same leg-decoding contract.
func New() *Builder {
	return &Builder{}
}

// Build satisfies executor.StrategyBuilder.
func (b *Builder) Build(ctx context.Context, opp types.Opportunity) (executor.StrategyPlan, error) {
	raw, ok := opp.Metadata["legs"]
	if !ok || raw == "" {
		return executor.StrategyPlan{}, fmt.Errorf("strategy: opportunity %s has no legs metadata", opp.ID)
	}

	var wire []legWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return executor.StrategyPlan{}, fmt.Errorf("strategy: decode legs for %s: %w", opp.ID, err)
	}
	if len(wire) == 0 {
		return executor.StrategyPlan{}, fmt.Errorf("strategy: opportunity %s has zero legs", opp.ID)
	}

	templates := make([]executor.TxTemplate, 0, len(wire))
	for i, leg := range wire {
		data, err := decodeCalldata(leg.DataHex)
		if err != nil {
			return executor.StrategyPlan{}, fmt.Errorf("strategy: leg %d calldata for %s: %w", i, opp.ID, err)
		}
		value, ok := new(big.Int).SetString(defaultZero(leg.ValueWei), 10)
		if !ok {
			return executor.StrategyPlan{}, fmt.Errorf("strategy: leg %d value_wei for %s is not a valid integer", i, opp.ID)
		}
		templates = append(templates, executor.TxTemplate{
			To:       leg.To,
			Data:     data,
			ValueWei: value,
			GasLimit: leg.GasLimit,
		})
	}

	return executor.StrategyPlan{
		Templates: templates,
		Atomic:    atomicStrategies[opp.Strategy],
	}, nil
}

func decodeCalldata(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

func defaultZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
