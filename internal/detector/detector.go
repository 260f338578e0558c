// Package detector scores incoming opportunities and maintains a
// priority queue that feeds the executor loop (spec.md C5).
package detector

import (
	"container/heap"
	"sync"
	"time"

	"github.com/hefarica/arbitragexplus-ii/pkg/types"
)

// RiskConfig lists the tokens that add or zero out risk score.
type RiskConfig struct {
	WhitelistedTokens map[string]bool
	BlacklistedTokens map[string]bool
}

// StrategyMinProfit gives the minimum USD profit a strategy needs to
// reach a profit_score of 20 (one "unit" of profit multiple).
type StrategyMinProfit map[types.Strategy]float64

// DefaultStrategyMinProfit mirrors the reference per-strategy minimum
// ROI thresholds, expressed directly in USD for this deployment.
func DefaultStrategyMinProfit() StrategyMinProfit {
	return StrategyMinProfit{
		types.StrategyDexArb:      10,
		types.StrategyTriangular:  10,
		types.StrategyCrossChain:  10,
		types.StrategySandwich:    50,
		types.StrategyLiquidation: 10,
		types.StrategyNFT:         10,
		types.StrategyBackrun:     10,
		types.StrategyJIT:         10,
	}
}

var riskPenaltyByStrategy = map[types.Strategy]float64{
	types.StrategySandwich:    30,
	types.StrategyCrossChain:  20,
	types.StrategyLiquidation: 15,
	types.StrategyNFT:         25,
}

// Score computes the four component scores and the 0.4/0.3/0.2/0.1
// weighted total for opp, given the risk whitelist/blacklist and
// per-strategy minimum profit table.
func Score(opp types.Opportunity, risk RiskConfig, minProfit StrategyMinProfit) types.OpportunityScore {
	profit := profitScore(opp, minProfit)
	riskScore := riskScoreFor(opp, risk)
	gasEff := gasEfficiencyScore(opp)
	timing := timingScore(opp)

	total := 0.4*profit + 0.3*riskScore + 0.2*gasEff + 0.1*timing

	return types.OpportunityScore{
		OpportunityID: opp.ID,
		Total:         total,
		Profit:        profit,
		Risk:          riskScore,
		GasEfficiency: gasEff,
		Timing:        timing,
	}
}

func profitScore(opp types.Opportunity, minProfit StrategyMinProfit) float64 {
	netProfit := opp.EstGrossProfitUSD - opp.GasUSDEstimate
	if netProfit <= 0 {
		return 0
	}
	min, ok := minProfit[opp.Strategy]
	if !ok || min <= 0 {
		min = 10
	}
	multiple := netProfit / min
	if multiple > 5 {
		multiple = 5
	}
	score := multiple * 20
	if score > 100 {
		score = 100
	}
	return score
}

// isBlacklisted reports whether any token in opp's path — base, quote,
// or any hop recorded in TokensTouched — is on the risk blacklist.
// This is a hard gate, independent of score: spec.md requires that no
// bundle is ever sent for such an opportunity, regardless of how
// profitable it otherwise scores.
func isBlacklisted(opp types.Opportunity, risk RiskConfig) bool {
	if risk.BlacklistedTokens[opp.BaseToken] || risk.BlacklistedTokens[opp.QuoteToken] {
		return true
	}
	for _, token := range opp.TokensTouched {
		if risk.BlacklistedTokens[token] {
			return true
		}
	}
	return false
}

func riskScoreFor(opp types.Opportunity, risk RiskConfig) float64 {
	if isBlacklisted(opp, risk) {
		return 0
	}

	score := 100.0
	if opp.GasUSDEstimate > 100 {
		score -= 20
	} else if opp.GasUSDEstimate > 50 {
		score -= 10
	}

	if penalty, ok := riskPenaltyByStrategy[opp.Strategy]; ok {
		score -= penalty
	}

	seen := make(map[string]bool)
	for _, token := range append([]string{opp.BaseToken, opp.QuoteToken}, opp.TokensTouched...) {
		if seen[token] {
			continue
		}
		seen[token] = true
		if risk.WhitelistedTokens[token] {
			score += 10
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func gasEfficiencyScore(opp types.Opportunity) float64 {
	gas := opp.GasUSDEstimate
	if gas < 1 {
		gas = 1
	}
	ratio := opp.EstGrossProfitUSD / gas
	switch {
	case ratio >= 10:
		return 100
	case ratio >= 5:
		return 80
	case ratio >= 3:
		return 60
	case ratio >= 2:
		return 40
	case ratio >= 1.5:
		return 20
	default:
		return 0
	}
}

func timingScore(opp types.Opportunity) float64 {
	ageMs := time.Now().UnixMilli() - opp.TsCreatedMs
	switch {
	case ageMs < 100:
		return 100
	case ageMs < 500:
		return 80
	case ageMs < 1000:
		return 60
	case ageMs < 5000:
		return 40
	case ageMs < 10000:
		return 20
	default:
		return 0
	}
}

// heapItem is one entry in the priority queue; priority is
// total_score encoded as an integer (x1000) for stable ordering, tied
// broken by ascending ts_created_ms (FIFO among equal scores).
type heapItem struct {
	opp      types.Opportunity
	score    types.OpportunityScore
	priority int64
	index    int
}

type maxHeap []*heapItem

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].opp.TsCreatedMs < h[j].opp.TsCreatedMs
}
func (h maxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *maxHeap) Push(x interface{}) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Metrics is the slice of metrics.Recorder the detector drives as
// opportunities are ingested, scored, and drained.
type Metrics interface {
	IncOpportunitiesFound()
	SetActiveOpportunities(n int)
	SetPendingExecutions(n int)
	ObserveOpportunityProfitUSD(usd float64)
}

type noopMetrics struct{}

func (noopMetrics) IncOpportunitiesFound()              {}
func (noopMetrics) SetActiveOpportunities(int)          {}
func (noopMetrics) SetPendingExecutions(int)            {}
func (noopMetrics) ObserveOpportunityProfitUSD(float64) {}

// Detector ingests opportunities, scores them, and drains the
// highest-priority eligible batch on each Tick.
type Detector struct {
	mu        sync.Mutex
	queue     maxHeap
	byID      map[string]*heapItem
	inExec    map[string]bool
	risk      RiskConfig
	minProfit StrategyMinProfit
	metrics   Metrics

	maxConcurrentTrades int
}

// New builds a Detector. maxConcurrentTrades bounds how many
// opportunities Tick drains per call.
func New(risk RiskConfig, minProfit StrategyMinProfit, maxConcurrentTrades int) *Detector {
	d := &Detector{
		byID:                make(map[string]*heapItem),
		inExec:              make(map[string]bool),
		risk:                risk,
		minProfit:           minProfit,
		metrics:             noopMetrics{},
		maxConcurrentTrades: maxConcurrentTrades,
	}
	heap.Init(&d.queue)
	return d
}

// WithMetrics attaches a Recorder the detector reports ingest/drain
// activity to; it returns d for chaining at construction time.
func (d *Detector) WithMetrics(m Metrics) *Detector {
	if m != nil {
		d.metrics = m
	}
	return d
}

// Ingest scores opp and adds it to the priority queue, replacing any
// prior entry with the same ID.
func (d *Detector) Ingest(opp types.Opportunity) types.OpportunityScore {
	score := Score(opp, d.risk, d.minProfit)
	priority := int64(score.Total * 1000)

	d.metrics.IncOpportunitiesFound()
	d.metrics.ObserveOpportunityProfitUSD(opp.EstGrossProfitUSD)

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.byID[opp.ID]; ok {
		existing.opp = opp
		existing.score = score
		existing.priority = priority
		heap.Fix(&d.queue, existing.index)
		d.metrics.SetActiveOpportunities(d.queue.Len())
		return score
	}

	item := &heapItem{opp: opp, score: score, priority: priority}
	heap.Push(&d.queue, item)
	d.byID[opp.ID] = item
	d.metrics.SetActiveOpportunities(d.queue.Len())
	return score
}

// Tick drains up to max_concurrent_trades items whose total score is
// positive, moving each into the in-execution set and returning them
// for the executor to consume. Items that have aged past timing=0 are
// dropped without execution.
func (d *Detector) Tick() []types.Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()

	var drained []types.Opportunity
	for len(drained) < d.maxConcurrentTrades && d.queue.Len() > 0 {
		top := d.queue[0]

		if timingScore(top.opp) == 0 || isBlacklisted(top.opp, d.risk) {
			heap.Pop(&d.queue)
			delete(d.byID, top.opp.ID)
			continue
		}
		if top.priority <= 0 {
			break
		}

		heap.Pop(&d.queue)
		delete(d.byID, top.opp.ID)
		d.inExec[top.opp.ID] = true
		drained = append(drained, top.opp)
	}
	d.metrics.SetActiveOpportunities(d.queue.Len())
	d.metrics.SetPendingExecutions(len(d.inExec))
	return drained
}

// TopK returns up to k highest-scored opportunities without removing
// them from the queue.
func (d *Detector) TopK(k int) []types.OpportunityScore {
	d.mu.Lock()
	defer d.mu.Unlock()

	cp := make(maxHeap, len(d.queue))
	copy(cp, d.queue)
	heap.Init(&cp)

	var out []types.OpportunityScore
	for i := 0; i < k && cp.Len() > 0; i++ {
		item := heap.Pop(&cp).(*heapItem)
		out = append(out, item.score)
	}
	return out
}

// CompleteExecution removes id from the in-execution set once the
// executor has finished with it (successfully or not).
func (d *Detector) CompleteExecution(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inExec, id)
	d.metrics.SetPendingExecutions(len(d.inExec))
}

// InExecution reports whether id is currently marked in-execution.
func (d *Detector) InExecution(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inExec[id]
}
