package analytics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalRequests     int64         `json:"total_requests"`
	TotalQuestions    int64         `json:"total_questions"`
	FailedAnswers     int64         `json:"failed_answers"`
	NotFoundAnswers   int64         `json:"not_found_answers"`
	FailedRequests    int64         `json:"failed_requests"`
	CacheHits         int64         `json:"cache_hits"`
	AvgLatencyMs      float64       `json:"avg_latency_ms"`
	P50LatencyMs      int64         `json:"p50_latency_ms"`
	P95LatencyMs      int64         `json:"p95_latency_ms"`
	P99LatencyMs      int64         `json:"p99_latency_ms"`
	Backends          []LabelCount  `json:"backends"`
	ErrorKinds        []LabelCount  `json:"error_kinds"`
	RequestsPerMinute float64       `json:"requests_per_minute"`
	Uptime            time.Duration `json:"uptime_ns"`
}

type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Aggregator keeps running statistics over QA events in memory.
type Aggregator struct {
	mu             sync.RWMutex
	totalRequests  atomic.Int64
	totalQuestions atomic.Int64
	failedAnswers  atomic.Int64
	notFound       atomic.Int64
	failedRequests atomic.Int64
	cacheHits      atomic.Int64
	latencies      []int64
	backends       map[string]int64
	errorKinds     map[string]int64
	startTime      time.Time
	now            func() time.Time
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:  make([]int64, 0, 1024),
		backends:   make(map[string]int64),
		errorKinds: make(map[string]int64),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Record folds one event into the statistics.
func (a *Aggregator) Record(event QAEvent) {
	a.totalRequests.Add(1)
	a.totalQuestions.Add(int64(event.Questions))
	a.failedAnswers.Add(int64(event.Failed))
	a.notFound.Add(int64(event.NotFound))
	switch event.Type {
	case EventCacheHit:
		a.cacheHits.Add(1)
	case EventFailed:
		a.failedRequests.Add(1)
	}

	a.mu.Lock()
	if len(a.latencies) >= maxLatencySamples {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	if event.Backend != "" {
		a.backends[event.Backend]++
	}
	if event.ErrorKind != "" {
		a.errorKinds[event.ErrorKind]++
	}
	a.mu.Unlock()
}

// Stats returns a snapshot of the statistics.
func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalRequests:   a.totalRequests.Load(),
		TotalQuestions:  a.totalQuestions.Load(),
		FailedAnswers:   a.failedAnswers.Load(),
		NotFoundAnswers: a.notFound.Load(),
		FailedRequests:  a.failedRequests.Load(),
		CacheHits:       a.cacheHits.Load(),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.Backends = topN(a.backends, 10)
	stats.ErrorKinds = topN(a.errorKinds, 10)
	stats.Uptime = a.now().Sub(a.startTime)
	if m := stats.Uptime.Minutes(); m > 0 {
		stats.RequestsPerMinute = float64(stats.TotalRequests) / m
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []LabelCount {
	result := make([]LabelCount, 0, len(counts))
	for label, count := range counts {
		result = append(result, LabelCount{Label: label, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Label < result[j].Label
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
