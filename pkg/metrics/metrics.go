// Package metrics defines the Prometheus metric collectors used across the
// service and the server that exposes them for scraping.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing, so components can be used without metrics.
type Metrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	HTTPRequestsInFlight    prometheus.Gauge
	PipelineRunsTotal       *prometheus.CounterVec
	PipelineLatency         prometheus.Histogram
	QuestionsTotal          *prometheus.CounterVec
	ChunksPerDocument       prometheus.Histogram
	FusedPassages           prometheus.Histogram
	GenerationInFlight      prometheus.Gauge
	GenerationLatency       *prometheus.HistogramVec
	EmbeddingCallsTotal     *prometheus.CounterVec
	ProviderSelectionsTotal *prometheus.CounterVec
	ExpansionFallbacksTotal prometheus.Counter
	CacheHitsTotal          prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CircuitBreakerState     *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. Passing nil
// registers with the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PipelineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_pipeline_runs_total",
				Help: "Pipeline runs by outcome (ok, client_error, server_error).",
			},
			[]string{"status"},
		),
		PipelineLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qa_pipeline_latency_seconds",
				Help:    "End-to-end pipeline latency in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
		),
		QuestionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_questions_total",
				Help: "Questions processed by outcome (answered, not_found, failed).",
			},
			[]string{"outcome"},
		),
		ChunksPerDocument: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qa_chunks_per_document",
				Help:    "Number of chunks produced per document.",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		FusedPassages: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "qa_fused_passages",
				Help:    "Number of unique passages used as context per question.",
				Buckets: []float64{0, 1, 3, 5, 7, 10, 15, 20, 30},
			},
		),
		GenerationInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "qa_generation_in_flight",
				Help: "Answer generation calls currently in flight.",
			},
		),
		GenerationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qa_generation_latency_seconds",
				Help:    "Language model call latency by purpose (expand, answer).",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"purpose"},
		),
		EmbeddingCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_embedding_calls_total",
				Help: "Embedding API calls by backend and status.",
			},
			[]string{"backend", "status"},
		),
		ProviderSelectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qa_provider_selections_total",
				Help: "Provider selections by chosen backend and reason.",
			},
			[]string{"backend", "reason"},
		),
		ExpansionFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "qa_expansion_fallbacks_total",
				Help: "Query expansions that degraded to the original question.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of response cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of response cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PipelineRunsTotal,
		m.PipelineLatency,
		m.QuestionsTotal,
		m.ChunksPerDocument,
		m.FusedPassages,
		m.GenerationInFlight,
		m.GenerationLatency,
		m.EmbeddingCallsTotal,
		m.ProviderSelectionsTotal,
		m.ExpansionFallbacksTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveRun records one pipeline run by final status.
func (m *Metrics) ObserveRun(status string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(status).Inc()
	m.PipelineLatency.Observe(seconds)
}

// ObserveChunks records the chunk count of an indexed document.
func (m *Metrics) ObserveChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksPerDocument.Observe(float64(n))
}

// ObserveFused records how many passages were handed to the generator.
func (m *Metrics) ObserveFused(n int) {
	if m == nil {
		return
	}
	m.FusedPassages.Observe(float64(n))
}

// ObserveQuestion counts one answered question by outcome.
func (m *Metrics) ObserveQuestion(outcome string) {
	if m == nil {
		return
	}
	m.QuestionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSelection counts one provider selection.
func (m *Metrics) ObserveSelection(backend, reason string) {
	if m == nil {
		return
	}
	m.ProviderSelectionsTotal.WithLabelValues(backend, reason).Inc()
}

// ObserveEmbedding counts one embedding API call.
func (m *Metrics) ObserveEmbedding(backend string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EmbeddingCallsTotal.WithLabelValues(backend, status).Inc()
}

// ObserveGeneration records the latency of one language model call.
func (m *Metrics) ObserveGeneration(purpose string, seconds float64) {
	if m == nil {
		return
	}
	m.GenerationLatency.WithLabelValues(purpose).Observe(seconds)
}

// TrackGeneration marks a language model call as in flight and returns a
// func that records its latency when the call completes.
func (m *Metrics) TrackGeneration(purpose string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.GenerationInFlight.Inc()
	return func() {
		m.GenerationInFlight.Dec()
		m.GenerationLatency.WithLabelValues(purpose).Observe(time.Since(start).Seconds())
	}
}

// ExpansionFallback counts one degraded query expansion.
func (m *Metrics) ExpansionFallback() {
	if m == nil {
		return
	}
	m.ExpansionFallbacksTotal.Inc()
}

// CacheResult counts a response cache lookup.
func (m *Metrics) CacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
		return
	}
	m.CacheMissesTotal.Inc()
}

// SetBreakerState publishes a circuit breaker state as a gauge value.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
