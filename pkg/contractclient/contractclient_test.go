package contractclient

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const erc20TransferABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

func mustABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	require.NoError(t, err)
	return parsed
}

type fakeBackend struct {
	callReturn []byte
	callErr    error
	tx         *types.Transaction
	receipt    *types.Receipt
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber interface{}) ([]byte, error) {
	return f.callReturn, f.callErr
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return f.tx, false, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return f.receipt, nil
}

func TestSend_PacksCalldata(t *testing.T) {
	contractABI := mustABI(t)
	cc := NewContractClient(&fakeBackend{}, common.HexToAddress("0x1"), contractABI)

	data, err := cc.Send("transfer", common.HexToAddress("0x2"), big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.True(t, len(data) >= 4+32+32)
	assert.Equal(t, contractABI.Methods["transfer"].ID, data[:4])
}

func TestDecodeTransaction_RoundTripsPackedCalldata(t *testing.T) {
	contractABI := mustABI(t)
	cc := NewContractClient(&fakeBackend{}, common.HexToAddress("0x1"), contractABI)

	to := common.HexToAddress("0x000000000000000000000000000000000000aa")
	data, err := cc.Send("transfer", to, big.NewInt(42))
	require.NoError(t, err)

	decoded, err := cc.DecodeTransaction(data)
	require.NoError(t, err)
	assert.Equal(t, "transfer", decoded.MethodName)
	assert.Equal(t, to, decoded.Inputs["to"])
}

func TestDecodeTransaction_RejectsShortCalldata(t *testing.T) {
	contractABI := mustABI(t)
	cc := NewContractClient(&fakeBackend{}, common.HexToAddress("0x1"), contractABI)

	_, err := cc.DecodeTransaction([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestCall_UnpacksReturnValue(t *testing.T) {
	contractABI := mustABI(t)
	packed, err := contractABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(500))
	require.NoError(t, err)

	cc := NewContractClient(&fakeBackend{callReturn: packed}, common.HexToAddress("0x1"), contractABI)

	out, err := cc.Call(context.Background(), "balanceOf", common.HexToAddress("0x2"))
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestParseReceipt_ReportsSuccessStatus(t *testing.T) {
	contractABI := mustABI(t)
	cc := NewContractClient(&fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}, common.HexToAddress("0x1"), contractABI)

	ok, _, err := cc.ParseReceipt(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.True(t, ok)
}
