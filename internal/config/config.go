// Package config loads the engine's YAML configuration into a
// hot-reloadable, copy-on-write snapshot (spec.md C9), following the
// teacher's configs/config.go YAML-unmarshal pattern.
package config

import (
	"fmt"
	"math/big"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hefarica/arbitragexplus-ii/internal/detector"
	"github.com/hefarica/arbitragexplus-ii/internal/gasoracle"
	"github.com/hefarica/arbitragexplus-ii/internal/noncemgr"
	"github.com/hefarica/arbitragexplus-ii/internal/profitguard"
	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// ChainYAML is one configured chain's RPC pool and gas oracle settings.
type ChainYAML struct {
	ChainID               string   `yaml:"chain_id"`
	RPCEndpoints          []string `yaml:"rpc_endpoints"`
	GasSources            []string `yaml:"gas_sources"`
	BaseFeeMultiplier     float64  `yaml:"base_fee_multiplier"`
	MaxGasPriceGwei       float64  `yaml:"max_gas_price_gwei"`
	GasOverheadPercentage float64  `yaml:"gas_overhead_percentage"`
	GasTokenPriceUSD      float64  `yaml:"gas_token_price_usd"`
}

// StrategiesYAML toggles strategies on/off and sets their minimum USD
// profit thresholds.
type StrategiesYAML struct {
	Enabled    []string           `yaml:"enabled"`
	Thresholds map[string]float64 `yaml:"thresholds"`
}

// RiskYAML configures the opportunity detector's token allowlists and
// the profitability guard's thresholds.
type RiskYAML struct {
	Whitelist         []string `yaml:"whitelist"`
	Blacklist         []string `yaml:"blacklist"`
	MinEVUSD          float64  `yaml:"min_ev_usd"`
	MaxSlippageBps    int      `yaml:"max_slippage_bps"`
	HaircutPercentage float64  `yaml:"haircut_percentage"`
}

// ExecutionYAML configures the executor loop and relay ordering.
type ExecutionYAML struct {
	MaxConcurrentTrades    int      `yaml:"max_concurrent_trades"`
	RelaysOrder            []string `yaml:"relays_order"`
	PrivateMempool         bool     `yaml:"private_mempool"`
	TxTimeoutSec           int      `yaml:"tx_timeout_sec"`
	PriorityFeeBumpPercent float64  `yaml:"priority_fee_bump_percent"`
	MaxRetryCount          int      `yaml:"max_retry_count"`
}

// FileConfig is the raw shape of config.yml.
type FileConfig struct {
	Chains     []ChainYAML    `yaml:"chains"`
	Strategies StrategiesYAML `yaml:"strategies"`
	Risk       RiskYAML       `yaml:"risk"`
	Execution  ExecutionYAML  `yaml:"execution"`
}

// Config is the resolved, immutable snapshot the rest of the engine
// reads component configs from. Two Configs loaded from the same YAML
// bytes are structurally equal.
type Config struct {
	Raw           FileConfig
	GasOracle     map[string]gasoracle.ChainConfig
	ProfitGuard   profitguard.Config
	Risk          detector.RiskConfig
	MinProfit     detector.StrategyMinProfit
	Nonce         noncemgr.Config
	MaxConcurrent int
	RelaysOrder   []types.RelayKind
}

// Store holds the current Config behind an atomic pointer so readers
// never observe a partially-applied reload.
type Store struct {
	path string
	cur  atomic.Pointer[Config]
}

// NewStore loads path and returns a Store primed with the first
// snapshot.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the currently active Config. Safe for concurrent use.
func (s *Store) Snapshot() *Config {
	return s.cur.Load()
}

// Reload re-reads the YAML file and atomically swaps in a freshly
// built Config. An invalid file leaves the previous snapshot in place.
func (s *Store) Reload() error {
	next, err := Load(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(next)
	return nil
}

// Load reads and resolves path into a Config without installing it
// into any Store; used by tests and by NewStore/Reload.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse resolves raw YAML bytes into a Config, validating the
// profitability guard's thresholds before returning.
func Parse(data []byte) (*Config, error) {
	var raw FileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	guardCfg := profitguard.Config{
		MaxSlippageBps:    raw.Risk.MaxSlippageBps,
		HaircutPercentage: raw.Risk.HaircutPercentage,
		MinEVUSD:          raw.Risk.MinEVUSD,
	}
	if err := guardCfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid risk section: %w", err)
	}

	risk := detector.RiskConfig{
		WhitelistedTokens: toSet(raw.Risk.Whitelist),
		BlacklistedTokens: toSet(raw.Risk.Blacklist),
	}

	minProfit := detector.DefaultStrategyMinProfit()
	for strategy, threshold := range raw.Strategies.Thresholds {
		minProfit[types.Strategy(strategy)] = threshold
	}

	gasConfigs := make(map[string]gasoracle.ChainConfig, len(raw.Chains))
	for _, chain := range raw.Chains {
		gasConfigs[chain.ChainID] = gasoracle.ChainConfig{
			Sources:               toSources(chain.GasSources),
			CacheTTL:              10 * time.Second,
			BaseFeeMultiplier:     orDefault(chain.BaseFeeMultiplier, 1.1),
			MaxGasPriceWei:        gweiToWei(chain.MaxGasPriceGwei),
			GasOverheadPercentage: chain.GasOverheadPercentage,
			GasTokenPriceUSD:      chain.GasTokenPriceUSD,
		}
	}

	nonceCfg := noncemgr.DefaultConfig()
	if raw.Execution.TxTimeoutSec > 0 {
		nonceCfg.TxTimeout = time.Duration(raw.Execution.TxTimeoutSec) * time.Second
	}
	if raw.Execution.PriorityFeeBumpPercent > 0 {
		nonceCfg.PriorityFeeBumpPercent = raw.Execution.PriorityFeeBumpPercent
	}
	if raw.Execution.MaxRetryCount > 0 {
		nonceCfg.MaxRetryCount = raw.Execution.MaxRetryCount
	}

	relayOrder := make([]types.RelayKind, 0, len(raw.Execution.RelaysOrder))
	for _, kind := range raw.Execution.RelaysOrder {
		relayOrder = append(relayOrder, types.RelayKind(kind))
	}

	maxConcurrent := raw.Execution.MaxConcurrentTrades
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	return &Config{
		Raw:           raw,
		GasOracle:     gasConfigs,
		ProfitGuard:   guardCfg,
		Risk:          risk,
		MinProfit:     minProfit,
		Nonce:         nonceCfg,
		MaxConcurrent: maxConcurrent,
		RelaysOrder:   relayOrder,
	}, nil
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func toSources(names []string) []gasoracle.Source {
	out := make([]gasoracle.Source, 0, len(names))
	for _, name := range names {
		switch name {
		case "block_history":
			out = append(out, gasoracle.SourceBlockHistory)
		case "chain_oracle":
			out = append(out, gasoracle.SourceChainOracle)
		case "direct_rpc":
			out = append(out, gasoracle.SourceDirectRPC)
		case "external_api":
			out = append(out, gasoracle.SourceExternalAPI)
		}
	}
	if len(out) == 0 {
		out = []gasoracle.Source{gasoracle.SourceBlockHistory, gasoracle.SourceDirectRPC}
	}
	return out
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// gweiToWei converts a gwei amount (as configured in YAML) to a wei
// *big.Int, rounding via big.Float the same way gasoracle bumps prices.
func gweiToWei(gwei float64) *big.Int {
	wei := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1_000_000_000))
	out, _ := wei.Int(nil)
	return out
}
