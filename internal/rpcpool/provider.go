package rpcpool

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Provider is the minimal RPC surface the pool needs from an
// ethclient-compatible connection. *ethclient.Client satisfies it;
// tests supply a fake.
type Provider interface {
	BlockNumber(ctx context.Context) (uint64, error)
	NetworkID(ctx context.Context) (*big.Int, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}
