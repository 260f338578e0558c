package noncemgr

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

// fakeChainClient lets tests script PendingNonceAt and
// TransactionReceipt without touching a real node.
type fakeChainClient struct {
	pendingNonce uint64
	receipt      *gethtypes.Receipt
	receiptErr   error
}

func (f *fakeChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.pendingNonce, nil
}

func (f *fakeChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	return f.receipt, f.receiptErr
}

func newTestManager(client ChainClient, cfg Config) *Manager {
	coord := NewCoordinator(nil)
	return New(coord, map[string]ChainClient{"eth": client}, map[string]Config{"eth": cfg}, nil)
}

// fakeMetrics counts calls instead of touching Prometheus, so Sweep's
// wiring can be asserted on directly.
type fakeMetrics struct {
	successful int
	failed     int
	reverted   int
}

func (f *fakeMetrics) IncTxSuccessful() { f.successful++ }
func (f *fakeMetrics) IncTxFailed()     { f.failed++ }
func (f *fakeMetrics) IncRevertedTx()   { f.reverted++ }

// Reserve issues strictly increasing nonces seeded from the chain's
// pending count on first use (invariant 1/2).
func TestReserveSeedsFromChainThenIncrements(t *testing.T) {
	client := &fakeChainClient{pendingNonce: 7, receiptErr: errors.New("not found")}
	m := newTestManager(client, DefaultConfig())

	ctx := context.Background()
	n1, err := m.Reserve(ctx, "eth", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n1)

	n2, err := m.Reserve(ctx, "eth", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), n2)
}

// Reserving k nonces from an empty slot and reading back NextNonce
// recovers seed+k (round-trip property, invariant 6).
func TestReserveRoundTripsWithNextNonce(t *testing.T) {
	client := &fakeChainClient{pendingNonce: 100, receiptErr: errors.New("not found")}
	m := newTestManager(client, DefaultConfig())
	ctx := context.Background()

	const k = 5
	for i := 0; i < k; i++ {
		_, err := m.Reserve(ctx, "eth", "0xabc")
		require.NoError(t, err)
	}

	key := types.NonceKey{Chain: "eth", Wallet: "0xabc"}
	next, err := m.coord.NextNonce(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(100+k), next)
}

// Scenario S3: register a tx at 20 gwei; at t0+181s with no receipt,
// NeedsReplacement is true and BuildReplacement bumps 10% to 22 gwei,
// marking the old entry Replaced while preserving the nonce.
func TestNeedsReplacementAndBuildReplacement_S3(t *testing.T) {
	client := &fakeChainClient{receiptErr: errors.New("not found")}
	m := newTestManager(client, DefaultConfig())

	const nonce = 42
	gasPrice := big.NewInt(20_000_000_000) // 20 gwei
	m.Register("eth", "0xabc", nonce, "0xdeadbeef", gasPrice)

	// Force the registration to look like it happened 181s ago.
	key := types.InFlightKey{Chain: "eth", Wallet: "0xabc", Nonce: nonce}
	m.mu.Lock()
	m.inFlight[key].CreatedAt = time.Now().Add(-181 * time.Second)
	m.mu.Unlock()

	ctx := context.Background()
	assert.True(t, m.NeedsReplacement(ctx, "eth", "0xabc", nonce))

	newPrice, err := m.BuildReplacement("eth", "0xabc", nonce)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(22_000_000_000), newPrice)

	snap, ok := m.InFlightSnapshot(key)
	require.True(t, ok)
	assert.Equal(t, types.TxReplaced, snap.State)
	assert.Equal(t, 1, snap.RetryCount)
}

// NeedsReplacement is false before the timeout elapses.
func TestNeedsReplacementFalseBeforeTimeout(t *testing.T) {
	client := &fakeChainClient{receiptErr: errors.New("not found")}
	m := newTestManager(client, DefaultConfig())

	m.Register("eth", "0xabc", 1, "0xdeadbeef", big.NewInt(20_000_000_000))
	assert.False(t, m.NeedsReplacement(context.Background(), "eth", "0xabc", 1))
}

// NeedsReplacement is false once the retry budget is exhausted.
func TestNeedsReplacementFalseAfterMaxRetries(t *testing.T) {
	client := &fakeChainClient{receiptErr: errors.New("not found")}
	cfg := DefaultConfig()
	cfg.MaxRetryCount = 1
	m := newTestManager(client, cfg)

	const nonce = 7
	m.Register("eth", "0xabc", nonce, "0xdeadbeef", big.NewInt(20_000_000_000))
	key := types.InFlightKey{Chain: "eth", Wallet: "0xabc", Nonce: nonce}
	m.mu.Lock()
	m.inFlight[key].CreatedAt = time.Now().Add(-181 * time.Second)
	m.inFlight[key].RetryCount = 1
	m.mu.Unlock()

	assert.False(t, m.NeedsReplacement(context.Background(), "eth", "0xabc", nonce))
}

// Sweep transitions a Pending tx to Mined once a successful receipt
// appears.
func TestSweepObservesMinedReceipt(t *testing.T) {
	client := &fakeChainClient{
		receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(123)},
	}
	m := newTestManager(client, DefaultConfig())

	m.Register("eth", "0xabc", 1, "0xdeadbeef", big.NewInt(20_000_000_000))
	m.Sweep(context.Background())

	snap, ok := m.InFlightSnapshot(types.InFlightKey{Chain: "eth", Wallet: "0xabc", Nonce: 1})
	require.True(t, ok)
	assert.Equal(t, types.TxMined, snap.State)
	require.NotNil(t, snap.BlockNumber)
	assert.Equal(t, uint64(123), *snap.BlockNumber)
}

// Sweep marks a Pending tx Expired once it has timed out with no
// receipt; rebuilding and resubmitting is left to the executor.
func TestSweepExpiresTimedOutTx(t *testing.T) {
	client := &fakeChainClient{receiptErr: errors.New("not found")}
	m := newTestManager(client, DefaultConfig())

	const nonce = 9
	m.Register("eth", "0xabc", nonce, "0xdeadbeef", big.NewInt(20_000_000_000))
	key := types.InFlightKey{Chain: "eth", Wallet: "0xabc", Nonce: nonce}
	m.mu.Lock()
	m.inFlight[key].CreatedAt = time.Now().Add(-181 * time.Second)
	m.mu.Unlock()

	m.Sweep(context.Background())

	snap, ok := m.InFlightSnapshot(key)
	require.True(t, ok)
	assert.Equal(t, types.TxExpired, snap.State)
}

// Sweep must report every observed outcome to the metrics recorder so
// the /metrics endpoint reflects tx-level state transitions, not just
// the executor's narrow Metrics subset.
func TestSweepRecordsMetricsForEachOutcome(t *testing.T) {
	successClient := &fakeChainClient{
		receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)},
	}
	metrics := &fakeMetrics{}
	m := New(NewCoordinator(nil), map[string]ChainClient{"eth": successClient}, map[string]Config{"eth": DefaultConfig()}, metrics)
	m.Register("eth", "0xabc", 1, "0xdeadbeef", big.NewInt(1))
	m.Sweep(context.Background())
	assert.Equal(t, 1, metrics.successful)
	assert.Equal(t, 0, metrics.failed)
	assert.Equal(t, 0, metrics.reverted)

	revertClient := &fakeChainClient{
		receipt: &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(2)},
	}
	metrics = &fakeMetrics{}
	m = New(NewCoordinator(nil), map[string]ChainClient{"eth": revertClient}, map[string]Config{"eth": DefaultConfig()}, metrics)
	m.Register("eth", "0xabc", 1, "0xdeadbeef", big.NewInt(1))
	m.Sweep(context.Background())
	assert.Equal(t, 0, metrics.successful)
	assert.Equal(t, 0, metrics.failed)
	assert.Equal(t, 1, metrics.reverted)

	expireClient := &fakeChainClient{receiptErr: errors.New("not found")}
	metrics = &fakeMetrics{}
	m = New(NewCoordinator(nil), map[string]ChainClient{"eth": expireClient}, map[string]Config{"eth": DefaultConfig()}, metrics)
	const nonce = 9
	m.Register("eth", "0xabc", nonce, "0xdeadbeef", big.NewInt(1))
	key := types.InFlightKey{Chain: "eth", Wallet: "0xabc", Nonce: nonce}
	m.mu.Lock()
	m.inFlight[key].CreatedAt = time.Now().Add(-181 * time.Second)
	m.mu.Unlock()
	m.Sweep(context.Background())
	assert.Equal(t, 0, metrics.successful)
	assert.Equal(t, 1, metrics.failed)
	assert.Equal(t, 0, metrics.reverted)
}

// Terminal entries older than the GC window are removed.
func TestGCExpiredRemovesOldTerminalEntries(t *testing.T) {
	client := &fakeChainClient{}
	m := newTestManager(client, DefaultConfig())

	key := types.InFlightKey{Chain: "eth", Wallet: "0xabc", Nonce: 1}
	m.Register("eth", "0xabc", 1, "0xdeadbeef", big.NewInt(1))
	m.Observe("eth", "0xabc", 1, types.TxMined, nil)
	m.mu.Lock()
	m.inFlight[key].UpdatedAt = time.Now().Add(-25 * time.Hour)
	m.mu.Unlock()

	m.GCExpired(24 * time.Hour)

	_, ok := m.InFlightSnapshot(key)
	assert.False(t, ok)
}
