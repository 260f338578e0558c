// Command engine wires the RPC pool, nonce manager, gas oracle,
// profitability guard, opportunity detector, relay dispatcher, and
// executor loop into one running process per spec.md's component
// graph, replacing the teacher's single-strategy RunStrategy1 entrypoint.
package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hefarica/arbitragexplus-ii/internal/config"
	"github.com/hefarica/arbitragexplus-ii/internal/db"
	"github.com/hefarica/arbitragexplus-ii/internal/detector"
	"github.com/hefarica/arbitragexplus-ii/internal/dispatcher"
	"github.com/hefarica/arbitragexplus-ii/internal/executor"
	"github.com/hefarica/arbitragexplus-ii/internal/gasoracle"
	"github.com/hefarica/arbitragexplus-ii/internal/metrics"
	"github.com/hefarica/arbitragexplus-ii/internal/noncemgr"
	"github.com/hefarica/arbitragexplus-ii/internal/profitguard"
	"github.com/hefarica/arbitragexplus-ii/internal/rpcpool"
	"github.com/hefarica/arbitragexplus-ii/internal/signer"
	"github.com/hefarica/arbitragexplus-ii/internal/strategy"
	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

func main() {
	// optional: loads a .env file from the working directory when one is
	// present; absence is not an error in prod.
	_ = godotenv.Load()

	configPath := os.Getenv("ENGINE_CONFIG")
	if configPath == "" {
		configPath = "config/config.yml"
	}
	cfgStore, err := config.NewStore(configPath)
	if err != nil {
		log.Fatalf("engine: load config: %v", err)
	}
	cfg := cfgStore.Snapshot()

	walletHexKey := os.Getenv("WALLET_PRIVATE_KEY")
	if walletHexKey == "" {
		log.Fatal("engine: WALLET_PRIVATE_KEY not set")
	}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)

	pool, providers := buildRPCPool(cfg)
	pool.WithMetrics(rec)
	pool.StartHealthLoop()
	defer pool.Stop()

	dsn := os.Getenv("EXECUTION_DB_DSN")
	if dsn == "" {
		log.Fatal("engine: EXECUTION_DB_DSN not set")
	}
	store, err := db.NewExecutionStore(dsn)
	if err != nil {
		log.Fatalf("engine: connect execution store: %v", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	if addr := os.Getenv("NONCE_COORDINATOR_REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	}
	coord := noncemgr.NewCoordinator(redisClient)

	chainClients := make(map[string]noncemgr.ChainClient, len(providers))
	nonceConfigs := make(map[string]noncemgr.Config, len(providers))
	keySigner := signer.New()

	for chain, client := range providers {
		chainClients[chain] = client
		nonceConfigs[chain] = cfg.Nonce
		chainIDInt, ok := new(big.Int).SetString(chain, 10)
		if !ok {
			log.Fatalf("engine: chain id %q is not numeric", chain)
		}
		if _, err := keySigner.AddWallet(chain, chainIDInt, walletHexKey); err != nil {
			log.Fatalf("engine: register wallet for chain %s: %v", chain, err)
		}
	}
	nonceMgr := noncemgr.New(coord, chainClients, nonceConfigs, rec)
	go sweepLoop(context.Background(), nonceMgr)

	gasFetchers := map[gasoracle.Source]gasoracle.Fetcher{
		gasoracle.SourceDirectRPC:    &gasoracle.RPCFetcher{Pool: pool},
		gasoracle.SourceBlockHistory: gasoracle.BlockHistoryFetcher{},
	}
	gasOracle := gasoracle.New(gasFetchers, cfg.GasOracle, nil).WithMetrics(rec)

	guard, err := profitguard.New(cfg.ProfitGuard)
	if err != nil {
		log.Fatalf("engine: init profitability guard: %v", err)
	}

	det := detector.New(cfg.Risk, cfg.MinProfit, cfg.MaxConcurrent).WithMetrics(rec)

	relays := buildRelays(cfg, providers)
	dispatch := dispatcher.New(relays).WithMetrics(rec)

	builders := map[types.Strategy]executor.StrategyBuilder{}
	strategyBuilder := strategy.New()
	for _, s := range enabledStrategies(cfg.Raw.Strategies.Enabled) {
		builders[s] = strategyBuilder
	}

	wallet := executor.Wallet{Chain: cfg.Raw.Chains[0].ChainID, Address: os.Getenv("WALLET_ADDRESS")}
	flashFees := map[types.Strategy]float64{
		types.StrategyCrossChain:  1.5,
		types.StrategyLiquidation: 0.5,
	}

	exec := executor.New(builders, det, gasOracle, guard, nonceMgr, dispatch, keySigner, store, rec, wallet, flashFees, 0.2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go exec.Run(ctx, 500*time.Millisecond)

	go serveMetrics(reg, os.Getenv("METRICS_ADDR"))

	waitForShutdown()
	log.Println("engine: shutting down")
}

func buildRPCPool(cfg *config.Config) (*rpcpool.Pool, map[string]*ethclient.Client) {
	pairs := make(map[types.Endpoint]rpcpool.Provider)
	providers := make(map[string]*ethclient.Client)

	for _, chain := range cfg.Raw.Chains {
		for i, url := range chain.RPCEndpoints {
			client, err := ethclient.Dial(url)
			if err != nil {
				log.Fatalf("engine: dial %s: %v", url, err)
			}
			endpoint := types.Endpoint{
				Chain:    chain.ChainID,
				URL:      url,
				Weight:   50,
				Priority: i,
				MaxRPS:   20,
			}
			pairs[endpoint] = client
			if _, ok := providers[chain.ChainID]; !ok {
				providers[chain.ChainID] = client
			}
		}
	}
	return rpcpool.New(pairs), providers
}

func buildRelays(cfg *config.Config, providers map[string]*ethclient.Client) []dispatcher.Relay {
	relays := make([]dispatcher.Relay, 0, len(cfg.RelaysOrder))
	for i, kind := range cfg.RelaysOrder {
		switch kind {
		case types.RelayPrivateA:
			if r, err := dispatcher.NewPrivateARelay(os.Getenv("RELAY_PRIVATE_A_ENDPOINT"), os.Getenv("RELAY_PRIVATE_A_KEY"), i); err == nil {
				relays = append(relays, r)
			} else {
				log.Printf("engine: skip private_a relay: %v", err)
			}
		case types.RelayPrivateB:
			if r, err := dispatcher.NewPrivateBRelay(os.Getenv("RELAY_PRIVATE_B_ENDPOINT"), os.Getenv("RELAY_PRIVATE_B_TOKEN"), 1, i); err == nil {
				relays = append(relays, r)
			} else {
				log.Printf("engine: skip private_b relay: %v", err)
			}
		case types.RelayPrivateShared:
			if r, err := dispatcher.NewPrivateSharedRelay(os.Getenv("RELAY_PRIVATE_SHARED_ENDPOINT"), os.Getenv("RELAY_PRIVATE_SHARED_KEY"), 2, i); err == nil {
				relays = append(relays, r)
			} else {
				log.Printf("engine: skip private_shared relay: %v", err)
			}
		case types.RelayPublic:
			for chain, client := range providers {
				relays = append(relays, dispatcher.NewPublicFallbackRelay(chain, client, nil, i))
				break // one public-fallback sender suffices; it is the last-resort relay
			}
		}
	}
	return relays
}

// allStrategies is the closed set of strategy kinds the executor's
// strategy table knows how to build.
var allStrategies = []types.Strategy{
	types.StrategyDexArb, types.StrategyTriangular, types.StrategyCrossChain,
	types.StrategySandwich, types.StrategyLiquidation, types.StrategyNFT,
	types.StrategyBackrun, types.StrategyJIT,
}

// enabledStrategies filters allStrategies down to the ones named in the
// config's strategies.enabled list. A strategy left out of that list
// never gets a registered StrategyBuilder, so the executor drops its
// opportunities as "no strategy builder" before ever reaching dispatch.
func enabledStrategies(enabled []string) []types.Strategy {
	want := make(map[types.Strategy]bool, len(enabled))
	for _, name := range enabled {
		want[types.Strategy(name)] = true
	}
	var out []types.Strategy
	for _, s := range allStrategies {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

func sweepLoop(ctx context.Context, mgr *noncemgr.Manager) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Sweep(ctx)
			mgr.GCExpired(24 * time.Hour)
		}
	}
}

func serveMetrics(reg *prometheus.Registry, addr string) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("engine: metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("engine: metrics server stopped: %v", err)
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	fmt.Println()
}
