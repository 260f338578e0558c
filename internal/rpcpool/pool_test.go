package rpcpool

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// fakeProvider implements Provider with a scripted block number and a
// toggle to simulate total failure.
type fakeProvider struct {
	blockNumber uint64
	fail        bool
}

func (f *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) {
	if f.fail {
		return 0, errors.New("down")
	}
	return f.blockNumber, nil
}

func (f *fakeProvider) NetworkID(ctx context.Context) (*big.Int, error) {
	if f.fail {
		return nil, errors.New("down")
	}
	return big.NewInt(1), nil
}

func (f *fakeProvider) BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error) {
	if f.fail {
		return nil, errors.New("down")
	}
	return gethtypes.NewBlockWithHeader(&gethtypes.Header{Number: big.NewInt(int64(f.blockNumber))}), nil
}

func (f *fakeProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	return nil, errors.New("not found")
}

func (f *fakeProvider) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	return nil
}

func endpointFor(chain string, weight int) types.Endpoint {
	return types.Endpoint{Chain: chain, URL: "http://" + chain, Weight: weight, MaxRPS: 1000}
}

func TestAcquireReturnsProviderWhenHealthy(t *testing.T) {
	pairs := map[types.Endpoint]Provider{
		endpointFor("eth", 50): &fakeProvider{blockNumber: 100},
	}
	pool := New(pairs)

	prov, err := pool.Acquire("eth")
	require.NoError(t, err)
	assert.NotNil(t, prov)
}

func TestAcquireNoHealthyEndpointWhenAllQuarantined(t *testing.T) {
	pairs := map[types.Endpoint]Provider{
		endpointFor("eth", 50): &fakeProvider{fail: true},
	}
	pool := New(pairs)
	for _, eps := range pool.endpoints {
		for _, ep := range eps {
			ep.health.Status = types.StatusQuarantined
		}
	}

	start := time.Now()
	_, err := pool.Acquire("eth")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNoHealthyEndpoint)
	maxExpected := time.Duration(2*len(pool.endpoints["eth"])) * acquireRetryBackoff * 2
	assert.LessOrEqual(t, elapsed, maxExpected+50*time.Millisecond)
}

func TestQuorumCallAgreement(t *testing.T) {
	pairs := map[types.Endpoint]Provider{
		endpointFor("eth", 10): &fakeProvider{blockNumber: 100},
	}
	p2 := endpointFor("eth", 10)
	p2.URL = "http://eth2"
	p3 := endpointFor("eth", 10)
	p3.URL = "http://eth3"
	pairs[p2] = &fakeProvider{blockNumber: 100}
	pairs[p3] = &fakeProvider{blockNumber: 99}

	pool := New(pairs)

	result, err := pool.QuorumCall(context.Background(), "eth", 2, func(ctx context.Context, prov Provider) (interface{}, error) {
		return prov.BlockNumber(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), result)
}

func TestQuorumCallDisagreementFails(t *testing.T) {
	pairs := map[types.Endpoint]Provider{
		endpointFor("eth", 10):  &fakeProvider{blockNumber: 100},
		mustEp("eth2"):          &fakeProvider{blockNumber: 99},
		mustEp("eth3"):          &fakeProvider{blockNumber: 98},
	}
	pool := New(pairs)

	_, err := pool.QuorumCall(context.Background(), "eth", 2, func(ctx context.Context, prov Provider) (interface{}, error) {
		return prov.BlockNumber(ctx)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrQuorumFailed)
}

func mustEp(url string) types.Endpoint {
	return types.Endpoint{Chain: "eth", URL: url, Weight: 10, MaxRPS: 1000}
}
