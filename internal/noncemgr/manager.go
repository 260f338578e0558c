// Package noncemgr issues monotonic nonces per (chain, wallet), tracks
// in-flight transactions, and triggers fee-bump replacements on
// timeout (spec.md C2).
package noncemgr

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// ChainClient is the slice of an RPC client the nonce manager needs:
// the on-chain transaction count to seed a cold slot, and receipts to
// resolve pending transactions. *ethclient.Client satisfies this.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Metrics is the slice of metrics.Recorder the nonce manager drives
// from its sweeper as in-flight transactions resolve.
type Metrics interface {
	IncTxSuccessful()
	IncTxFailed()
	IncRevertedTx()
}

type noopMetrics struct{}

func (noopMetrics) IncTxSuccessful() {}
func (noopMetrics) IncTxFailed()     {}
func (noopMetrics) IncRevertedTx()   {}

// Config holds the per-chain replacement policy knobs.
type Config struct {
	TxTimeout              time.Duration
	PriorityFeeBumpPercent float64
	MaxRetryCount          int
}

// DefaultConfig matches spec.md's defaults: 180s timeout, 10% bump, 3
// retries.
func DefaultConfig() Config {
	return Config{
		TxTimeout:              180 * time.Second,
		PriorityFeeBumpPercent: 10,
		MaxRetryCount:          3,
	}
}

// Manager uniquely owns NonceSlot and InFlightTx state. Reserve and
// replacement decisions are serialized per (chain,wallet) so nonce
// issuance is linearizable within the process; the Coordinator
// extends that guarantee across replicas.
type Manager struct {
	coord   *Coordinator
	clients map[string]ChainClient // chain -> client, for seeding + sweep
	configs map[string]Config      // chain -> policy, falls back to DefaultConfig
	metrics Metrics

	keyLocks sync.Map // types.NonceKey -> *sync.Mutex

	mu       sync.RWMutex
	inFlight map[types.InFlightKey]*types.InFlightTx
}

// New builds a Manager. clients provides per-chain on-chain access for
// cold-start seeding and the sweeper; configs overrides the default
// replacement policy per chain (absent entries use DefaultConfig()).
// metrics may be nil, in which case Sweep's outcomes are not recorded.
func New(coord *Coordinator, clients map[string]ChainClient, configs map[string]Config, metrics Metrics) *Manager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Manager{
		coord:    coord,
		clients:  clients,
		configs:  configs,
		metrics:  metrics,
		inFlight: make(map[types.InFlightKey]*types.InFlightTx),
	}
}

func (m *Manager) configFor(chain string) Config {
	if c, ok := m.configs[chain]; ok {
		return c
	}
	return DefaultConfig()
}

func (m *Manager) lockFor(key types.NonceKey) *sync.Mutex {
	v, _ := m.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Reserve atomically issues the next nonce for (chain, wallet). On a
// coordinator cache miss it seeds from the on-chain transaction count,
// which is authoritative on cold start.
func (m *Manager) Reserve(ctx context.Context, chain, wallet string) (uint64, error) {
	key := types.NonceKey{Chain: chain, Wallet: wallet}
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := m.coord.Peek(key); !ok {
		if _, err := m.coord.NextNonce(ctx, key); err != nil {
			seed, err := m.seedFromChain(ctx, chain, wallet)
			if err != nil {
				return 0, err
			}
			if err := m.coord.Seed(ctx, key, seed); err != nil {
				return 0, err
			}
		}
	}

	nonce, err := m.coord.Increment(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reserve nonce %s/%s: %w", chain, wallet, err)
	}
	return nonce, nil
}

func (m *Manager) seedFromChain(ctx context.Context, chain, wallet string) (uint64, error) {
	client, ok := m.clients[chain]
	if !ok {
		return 0, fmt.Errorf("noncemgr: no chain client configured for %s", chain)
	}
	n, err := client.PendingNonceAt(ctx, common.HexToAddress(wallet))
	if err != nil {
		return 0, fmt.Errorf("seed nonce from chain for %s/%s: %w", chain, wallet, err)
	}
	return n, nil
}

// Register records a newly submitted transaction as Pending.
func (m *Manager) Register(chain, wallet string, nonce uint64, hash string, gasPrice *big.Int) {
	key := types.InFlightKey{Chain: chain, Wallet: wallet, Nonce: nonce}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[key] = &types.InFlightTx{
		TxHash:    hash,
		State:     types.TxPending,
		GasPrice:  new(big.Int).Set(gasPrice),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Observe records an externally-observed state transition (e.g. from
// the sweeper or a caller polling a receipt directly). It is
// idempotent: observing the same terminal state twice is a no-op.
func (m *Manager) Observe(chain, wallet string, nonce uint64, state types.TxState, block *uint64) {
	key := types.InFlightKey{Chain: chain, Wallet: wallet, Nonce: nonce}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.inFlight[key]
	if !ok {
		return
	}
	tx.State = state
	tx.UpdatedAt = time.Now()
	if block != nil {
		tx.BlockNumber = block
	}
}

// NeedsReplacement reports whether the Pending tx at (chain,wallet,nonce)
// has exceeded tx_timeout_secs with no receipt and has retries left.
func (m *Manager) NeedsReplacement(ctx context.Context, chain, wallet string, nonce uint64) bool {
	key := types.InFlightKey{Chain: chain, Wallet: wallet, Nonce: nonce}
	m.mu.RLock()
	tx, ok := m.inFlight[key]
	m.mu.RUnlock()
	if !ok || tx.State != types.TxPending {
		return false
	}

	cfg := m.configFor(chain)
	if time.Since(tx.CreatedAt) <= cfg.TxTimeout {
		return false
	}
	if tx.RetryCount >= cfg.MaxRetryCount {
		return false
	}

	if client, ok := m.clients[chain]; ok {
		if receipt, err := client.TransactionReceipt(ctx, common.HexToHash(tx.TxHash)); err == nil && receipt != nil {
			return false // already mined/failed; sweeper will observe it
		}
	}
	return true
}

// BuildReplacement computes the bumped gas price for a stuck tx and
// marks the old InFlightTx Replaced, preserving the nonce for the
// caller's new submission. old.gas_price is rounded up so the new
// price is never less than old*(1+bump/100).
func (m *Manager) BuildReplacement(chain, wallet string, nonce uint64) (*big.Int, error) {
	key := types.NonceKey{Chain: chain, Wallet: wallet}
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	ifKey := types.InFlightKey{Chain: chain, Wallet: wallet, Nonce: nonce}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.inFlight[ifKey]
	if !ok {
		return nil, fmt.Errorf("noncemgr: no in-flight tx for %s/%s/%d", chain, wallet, nonce)
	}

	cfg := m.configFor(chain)
	newPrice := bumpGasPrice(tx.GasPrice, cfg.PriorityFeeBumpPercent)

	tx.State = types.TxReplaced
	tx.UpdatedAt = time.Now()
	tx.RetryCount++

	return newPrice, nil
}

// bumpGasPrice rounds old*(1+bumpPercent/100) up to the nearest wei.
func bumpGasPrice(old *big.Int, bumpPercent float64) *big.Int {
	// exact rational factor (100+bumpPercent)/100, so 10% of 20 gwei is
	// exactly 22 gwei rather than 1.1's binary approximation.
	factor := new(big.Rat).SetFloat64(bumpPercent)
	factor.Add(factor, big.NewRat(100, 1))
	factor.Quo(factor, big.NewRat(100, 1))
	bumped := new(big.Rat).Mul(new(big.Rat).SetInt(old), factor)

	result, rem := new(big.Int).QuoRem(bumped.Num(), bumped.Denom(), new(big.Int))
	// round up: if there is a fractional remainder, bump by one wei.
	if rem.Sign() > 0 {
		result.Add(result, big.NewInt(1))
	}
	return result
}

// Sweep polls every Pending in-flight tx's receipt via the configured
// chain clients; found receipts transition to Mined/Failed, and
// timed-out-and-eligible entries transition to Expired so the
// executor can rebuild and resubmit. Intended to run on a ticker
// (every 500ms per spec.md).
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.RLock()
	var pending []types.InFlightKey
	for k, tx := range m.inFlight {
		if tx.State == types.TxPending {
			pending = append(pending, k)
		}
	}
	m.mu.RUnlock()

	for _, key := range pending {
		m.sweepOne(ctx, key)
	}
}

func (m *Manager) sweepOne(ctx context.Context, key types.InFlightKey) {
	client, ok := m.clients[key.Chain]
	if !ok {
		return
	}

	m.mu.RLock()
	tx, ok := m.inFlight[key]
	m.mu.RUnlock()
	if !ok {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	receipt, err := client.TransactionReceipt(probeCtx, common.HexToHash(tx.TxHash))
	cancel()

	if err == nil && receipt != nil {
		state := types.TxFailed
		if receipt.Status == gethtypes.ReceiptStatusSuccessful {
			state = types.TxMined
			m.metrics.IncTxSuccessful()
		} else {
			m.metrics.IncRevertedTx()
		}
		block := receipt.BlockNumber.Uint64()
		m.Observe(key.Chain, key.Wallet, key.Nonce, state, &block)
		return
	}

	if m.NeedsReplacement(ctx, key.Chain, key.Wallet, key.Nonce) {
		m.Observe(key.Chain, key.Wallet, key.Nonce, types.TxExpired, nil)
		m.metrics.IncTxFailed()
	}
}

// InFlightSnapshot returns a copy of current in-flight state, for
// testing and metrics; it never returns a live pointer.
func (m *Manager) InFlightSnapshot(key types.InFlightKey) (types.InFlightTx, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.inFlight[key]
	if !ok {
		return types.InFlightTx{}, false
	}
	return *tx, true
}

// GCExpired removes terminal in-flight entries older than maxAge
// (spec.md: terminal states are GC'd after 24h).
func (m *Manager) GCExpired(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, tx := range m.inFlight {
		if isTerminal(tx.State) && tx.UpdatedAt.Before(cutoff) {
			delete(m.inFlight, k)
		}
	}
}

func isTerminal(s types.TxState) bool {
	switch s {
	case types.TxMined, types.TxFailed, types.TxReplaced, types.TxExpired:
		return true
	default:
		return false
	}
}
