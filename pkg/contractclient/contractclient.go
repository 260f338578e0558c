// Package contractclient wraps an ABI and an RPC client into typed
// contract calls and transaction decoding, used by the executor's
// strategy builders to encode calldata and by the dispatcher's
// tooling to inspect submitted transactions.
package contractclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the slice of an RPC client ContractClient needs to call
// and decode against a contract. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber interface{}) ([]byte, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// DecodedCall is a human-readable view of an ABI-encoded call.
type DecodedCall struct {
	MethodName string
	Inputs     map[string]interface{}
}

// ContractClient binds one contract address + ABI to an RPC backend.
type ContractClient struct {
	client  Backend
	address common.Address
	abi     abi.ABI
}

// NewContractClient builds a ContractClient for address using abi.
func NewContractClient(client Backend, address common.Address, contractABI abi.ABI) *ContractClient {
	return &ContractClient{client: client, address: address, abi: contractABI}
}

// Abi exposes the bound ABI, e.g. for strategy builders that need to
// pack calldata directly.
func (c *ContractClient) Abi() abi.ABI {
	return c.abi
}

// Call performs an eth_call against method with args and unpacks the
// return values.
func (c *ContractClient) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contractclient: call %s: %w", method, err)
	}

	return c.abi.Unpack(method, out)
}

// Send packs method(args...) into calldata ready for the caller to
// wrap in a signed transaction; it does not submit anything itself
// (submission is the dispatcher's job).
func (c *ContractClient) Send(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contractclient: pack %s: %w", method, err)
	}
	return data, nil
}

// TransactionData fetches the calldata of a previously broadcast
// transaction by hash.
func (c *ContractClient) TransactionData(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, _, err := c.client.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("contractclient: fetch tx %s: %w", hash, err)
	}
	return tx.Data(), nil
}

// ParseReceipt fetches and reports success/failure for a submitted
// transaction, per the spec's status==1 success contract.
func (c *ContractClient) ParseReceipt(ctx context.Context, hash common.Hash) (bool, *types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return false, nil, fmt.Errorf("contractclient: fetch receipt %s: %w", hash, err)
	}
	return receipt.Status == types.ReceiptStatusSuccessful, receipt, nil
}

// DecodeTransaction decodes raw calldata against the bound ABI,
// matching the 4-byte method selector and unpacking its arguments.
func (c *ContractClient) DecodeTransaction(data []byte) (DecodedCall, error) {
	if len(data) < 4 {
		return DecodedCall{}, fmt.Errorf("contractclient: calldata too short to contain a method selector")
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return DecodedCall{}, fmt.Errorf("contractclient: unknown method selector: %w", err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return DecodedCall{}, fmt.Errorf("contractclient: unpack %s args: %w", method.Name, err)
	}

	return DecodedCall{MethodName: method.Name, Inputs: args}, nil
}
