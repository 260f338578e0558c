package gasoracle

import (
	"context"
	"math/big"

	"github.com/hefarica/arbitragexplus-ii/internal/rpcpool"
)

const gweiToWei = 1_000_000_000

// gweiInt converts a gwei amount to a *big.Int of wei.
func gweiInt(gwei float64) *big.Int {
	return mulFloat(big.NewInt(gweiToWei), gwei)
}

// conservativeDefaults are the per-chain fallback base fees used when
// no live reading is available, matching the reference deployment's
// conservative per-chain defaults.
var conservativeDefaults = map[string]float64{
	"1":     20.0, // Ethereum mainnet
	"10":    0.1,  // Optimism
	"42161": 0.1,  // Arbitrum
	"137":   50.0, // Polygon
	"8453":  0.05, // Base
}

func defaultBaseFeeGwei(chain string) float64 {
	if v, ok := conservativeDefaults[chain]; ok {
		return v
	}
	return 5.0
}

// BlockHistoryFetcher returns conservative per-chain defaults; a
// production deployment would analyze recent block base fees instead,
// but this keeps the fallback path dependency-free and always
// available.
type BlockHistoryFetcher struct {
	PriorityFeeGwei map[string]float64
}

func (f BlockHistoryFetcher) Fetch(ctx context.Context, chain string) (*big.Int, *big.Int, error) {
	baseFee := gweiInt(defaultBaseFeeGwei(chain))
	priority := gweiInt(f.PriorityFeeGwei[chain])
	return baseFee, priority, nil
}

// RPCFetcher reads the latest block's base fee directly from a chain's
// RPC endpoint via the connection pool. It reports the priority fee as
// zero.
type RPCFetcher struct {
	Pool *rpcpool.Pool
}

func (f RPCFetcher) Fetch(ctx context.Context, chain string) (*big.Int, *big.Int, error) {
	prov, err := f.Pool.Acquire(chain)
	if err != nil {
		return nil, nil, err
	}
	block, err := prov.BlockByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	baseFee := block.BaseFee()
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	return new(big.Int).Set(baseFee), big.NewInt(0), nil
}
