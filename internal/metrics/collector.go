package metrics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allaspectsdev/modelbench/internal/history"
)

// Collector tracks live comparison metrics using atomic counters for
// lock-free updates. Per-model counters sit behind a mutex.
type Collector struct {
	totalComparisons int64
	totalResults     int64
	totalErrors      int64
	promptTokens     int64
	completionTokens int64

	// Float64 counters stored as uint64 via math.Float64bits/Float64frombits.
	totalCostUSD uint64

	activeComparisons int64

	mu       sync.Mutex
	perModel map[string]*modelCounters

	startTime time.Time
}

type modelCounters struct {
	results int64
	errors  int64
	costUSD float64
}

// Stats is a point-in-time snapshot of the collector's counters.
type Stats struct {
	Uptime            string  `json:"uptime"`
	TotalComparisons  int64   `json:"total_comparisons"`
	TotalResults      int64   `json:"total_results"`
	TotalErrors       int64   `json:"total_errors"`
	ErrorRate         float64 `json:"error_rate"`
	PromptTokens      int64   `json:"prompt_tokens"`
	CompletionTokens  int64   `json:"completion_tokens"`
	CostUSD           float64 `json:"cost_usd"`
	ActiveComparisons int64   `json:"active_comparisons"`
}

// ModelSample is one model's counters.
type ModelSample struct {
	Model   string
	Results int64
	Errors  int64
	CostUSD float64
}

// NewCollector creates a Collector with all counters at zero and the start
// time set to now.
func NewCollector() *Collector {
	return &Collector{
		startTime:    time.Now(),
		totalCostUSD: math.Float64bits(0),
		perModel:     make(map[string]*modelCounters),
	}
}

// ComparisonStarted marks a comparison as in flight.
func (c *Collector) ComparisonStarted() {
	atomic.AddInt64(&c.activeComparisons, 1)
}

// ComparisonFinished records the outcome of a comparison started with
// ComparisonStarted. item is nil when the comparison was rejected.
func (c *Collector) ComparisonFinished(item *history.Item) {
	atomic.AddInt64(&c.activeComparisons, -1)
	if item == nil {
		return
	}
	atomic.AddInt64(&c.totalComparisons, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range item.Results {
		atomic.AddInt64(&c.totalResults, 1)
		atomic.AddInt64(&c.promptTokens, int64(r.Usage.PromptTokens))
		atomic.AddInt64(&c.completionTokens, int64(r.Usage.CompletionTokens))

		mc := c.perModel[r.ModelID]
		if mc == nil {
			mc = &modelCounters{}
			c.perModel[r.ModelID] = mc
		}
		mc.results++
		if r.IsError {
			atomic.AddInt64(&c.totalErrors, 1)
			mc.errors++
		}
		if r.Cost.Available {
			cost := r.Cost.Amount.InexactFloat64()
			addFloat64(&c.totalCostUSD, cost)
			mc.costUSD += cost
		}
	}
}

// Stats returns a point-in-time snapshot of all metrics.
func (c *Collector) Stats() *Stats {
	results := atomic.LoadInt64(&c.totalResults)
	errs := atomic.LoadInt64(&c.totalErrors)

	var errorRate float64
	if results > 0 {
		errorRate = float64(errs) / float64(results) * 100
	}

	return &Stats{
		Uptime:            formatDuration(time.Since(c.startTime)),
		TotalComparisons:  atomic.LoadInt64(&c.totalComparisons),
		TotalResults:      results,
		TotalErrors:       errs,
		ErrorRate:         errorRate,
		PromptTokens:      atomic.LoadInt64(&c.promptTokens),
		CompletionTokens:  atomic.LoadInt64(&c.completionTokens),
		CostUSD:           loadFloat64(&c.totalCostUSD),
		ActiveComparisons: atomic.LoadInt64(&c.activeComparisons),
	}
}

// Models returns per-model counters sorted by model id.
func (c *Collector) Models() []ModelSample {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ModelSample, 0, len(c.perModel))
	for id, mc := range c.perModel {
		out = append(out, ModelSample{Model: id, Results: mc.results, Errors: mc.errors, CostUSD: mc.costUSD})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// addFloat64 atomically adds delta to the float64 stored in addr using a CAS loop.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}

// formatDuration produces a compact duration string like "2d 5h 32m".
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if minutes > 0 {
		parts = append(parts, strconv.Itoa(minutes)+"m")
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
