// Package metrics exposes the engine's Prometheus collectors and the
// Recorder that the detector, dispatcher, and executor drive them
// through.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the concrete Prometheus-backed implementation of the
// counters/gauges/histograms the engine's components depend on through
// their own narrow interfaces (executor.Metrics and friends).
type Recorder struct {
	opportunitiesFound    prometheus.Counter
	opportunitiesExecuted prometheus.Counter
	txSent                prometheus.Counter
	txSuccessful          prometheus.Counter
	txFailed              prometheus.Counter
	bundlesSent           prometheus.Counter
	validationFailures    prometheus.Counter
	revertedTx            prometheus.Counter

	activeOpportunities prometheus.Gauge
	pendingExecutions   prometheus.Gauge
	totalProfitUSD      prometheus.Gauge
	gasPriceGwei        *prometheus.GaugeVec
	lastBlock           *prometheus.GaugeVec

	opportunityProfitUSD prometheus.Histogram
	executionLatencyMs   prometheus.Histogram
	rpcLatencyMs         *prometheus.HistogramVec
}

// New registers every collector against reg and returns the Recorder.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		opportunitiesFound: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_opportunities_found_total",
			Help: "Opportunities ingested by the detector.",
		}),
		opportunitiesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_opportunities_executed_total",
			Help: "Opportunities that reached a successful bundle submission.",
		}),
		txSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_tx_sent_total",
			Help: "Transactions signed and submitted to a relay.",
		}),
		txSuccessful: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_tx_successful_total",
			Help: "Transactions observed mined with a success receipt.",
		}),
		txFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_tx_failed_total",
			Help: "Transactions that timed out without a receipt and were marked expired.",
		}),
		bundlesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_bundles_sent_total",
			Help: "Bundles accepted by any configured relay.",
		}),
		validationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_validation_failures_total",
			Help: "Opportunities dropped before dispatch (no plan, unprofitable, gas unavailable, etc).",
		}),
		revertedTx: factory.NewCounter(prometheus.CounterOpts{
			Name: "mev_reverted_tx_total",
			Help: "Transactions mined but reverted on-chain.",
		}),
		activeOpportunities: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mev_active_opportunities",
			Help: "Opportunities currently held in the detector's priority queue.",
		}),
		pendingExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mev_pending_executions",
			Help: "Opportunities currently in the executor's in-execution set.",
		}),
		totalProfitUSD: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mev_total_profit_usd",
			Help: "Cumulative realized net EV in USD.",
		}),
		gasPriceGwei: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mev_gas_price_gwei",
			Help: "Last recommended gas price per chain, in gwei.",
		}, []string{"chain"}),
		lastBlock: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mev_last_block",
			Help: "Last block number observed per chain.",
		}, []string{"chain"}),
		opportunityProfitUSD: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mev_opportunity_profit_usd",
			Help:    "Distribution of estimated gross profit per opportunity, in USD.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		executionLatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mev_execution_latency_ms",
			Help:    "Wall-clock time from detector drain to dispatch outcome, in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),
		rpcLatencyMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mev_rpc_latency_ms",
			Help:    "RPC call latency per chain and method, in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"chain", "method"}),
	}
}

// IncOpportunitiesFound is driven by the detector on every Ingest call.
func (r *Recorder) IncOpportunitiesFound() { r.opportunitiesFound.Inc() }

// IncOpportunitiesExecuted satisfies executor.Metrics.
func (r *Recorder) IncOpportunitiesExecuted() { r.opportunitiesExecuted.Inc() }

// IncTxSent satisfies executor.Metrics.
func (r *Recorder) IncTxSent() { r.txSent.Inc() }

// IncTxSuccessful is driven by noncemgr's sweep on a mined success receipt.
func (r *Recorder) IncTxSuccessful() { r.txSuccessful.Inc() }

// IncTxFailed is driven by noncemgr's sweep when a pending tx times out
// without a receipt and is marked expired.
func (r *Recorder) IncTxFailed() { r.txFailed.Inc() }

// IncBundlesSent is driven by the dispatcher on a successful relay submit.
func (r *Recorder) IncBundlesSent() { r.bundlesSent.Inc() }

// IncValidationFailure satisfies executor.Metrics.
func (r *Recorder) IncValidationFailure() { r.validationFailures.Inc() }

// IncRevertedTx is driven by noncemgr's sweep when a receipt's status
// is failure despite being mined (distinct from never landing at all).
func (r *Recorder) IncRevertedTx() { r.revertedTx.Inc() }

// SetActiveOpportunities reports the detector's current queue depth.
func (r *Recorder) SetActiveOpportunities(n int) { r.activeOpportunities.Set(float64(n)) }

// SetPendingExecutions reports the executor's in-execution set size.
func (r *Recorder) SetPendingExecutions(n int) { r.pendingExecutions.Set(float64(n)) }

// AddRealizedProfitUSD accumulates realized net EV into the running total.
func (r *Recorder) AddRealizedProfitUSD(usd float64) { r.totalProfitUSD.Add(usd) }

// SetGasPriceGwei reports C3's last recommended gas price for a chain.
func (r *Recorder) SetGasPriceGwei(chain string, gwei float64) {
	r.gasPriceGwei.WithLabelValues(chain).Set(gwei)
}

// SetLastBlock reports the most recent block height observed on a chain.
func (r *Recorder) SetLastBlock(chain string, block uint64) {
	r.lastBlock.WithLabelValues(chain).Set(float64(block))
}

// ObserveOpportunityProfitUSD records one opportunity's estimated gross
// profit at ingestion time.
func (r *Recorder) ObserveOpportunityProfitUSD(usd float64) { r.opportunityProfitUSD.Observe(usd) }

// ObserveExecutionLatencyMs satisfies executor.Metrics.
func (r *Recorder) ObserveExecutionLatencyMs(ms float64) { r.executionLatencyMs.Observe(ms) }

// ObserveRPCLatencyMs is driven by the RPC pool's health probes.
func (r *Recorder) ObserveRPCLatencyMs(chain, method string, ms float64) {
	r.rpcLatencyMs.WithLabelValues(chain, method).Observe(ms)
}
