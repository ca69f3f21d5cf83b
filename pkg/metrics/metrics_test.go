package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveQuestion("answered")
	m.ObserveSelection("default", "no_credential")
	m.ObserveEmbedding("default", nil)
	m.ObserveGeneration("answer", 0.1)
	m.ExpansionFallback()
	m.CacheResult(true)
	m.SetBreakerState("default", 1)
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveQuestion("answered")
	m.ObserveQuestion("answered")
	m.ObserveQuestion("failed")
	m.ObserveEmbedding("primary", errors.New("401"))
	m.CacheResult(true)
	m.CacheResult(false)
	m.ExpansionFallback()

	if got := testutil.ToFloat64(m.QuestionsTotal.WithLabelValues("answered")); got != 2 {
		t.Errorf("answered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EmbeddingCallsTotal.WithLabelValues("primary", "error")); got != 1 {
		t.Errorf("embedding errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExpansionFallbacksTotal); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}

func TestServerScrapesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveSelection("default", "no_credential")
	m.SetBreakerState("default-backend", 1)
	h := NewServer(0, reg).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{"qa_provider_selections_total", "default-backend"} {
		if !strings.Contains(body, name) {
			t.Errorf("scrape is missing %s", name)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/metrics" {
		t.Errorf("root = %d %q, want redirect to /metrics", rec.Code, rec.Header().Get("Location"))
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /metrics = %d, want 405", rec.Code)
	}
}
