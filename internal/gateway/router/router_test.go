package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider/providertest"
	qahandler "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/handler"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/health"
)

type stubAnswerer struct {
	credential     string
	requirePrimary bool
	deadline       bool
}

func (s *stubAnswerer) Answer(ctx context.Context, req pipeline.DocumentRequest) (*pipeline.Response, error) {
	s.credential = req.Credential
	s.requirePrimary = req.RequirePrimary
	_, s.deadline = ctx.Deadline()
	return &pipeline.Response{Answers: make([]string, len(req.Questions))}, nil
}

type stubValidator struct{}

func (stubValidator) Validate(ctx context.Context, rawKey string) (*apikey.KeyInfo, error) {
	if rawKey == "qa_valid" {
		return &apikey.KeyInfo{ID: "1", RateLimit: 100}, nil
	}
	return nil, apikey.ErrInvalidKey
}

func newRouter(ans *stubAnswerer, withAuth bool) http.Handler {
	opts := Options{
		QA:              qahandler.New(ans, nil, nil, 0),
		Health:          health.NewChecker(),
		ProviderPrefix:  "sk-",
		Limiter:         ratelimit.New(time.Minute),
		RateLimit:       100,
		RateLimitWindow: time.Minute,
		RequestTimeout:  time.Minute,
	}
	if withAuth {
		opts.Validator = stubValidator{}
	}
	return New(opts)
}

func TestRoutes(t *testing.T) {
	ans := &stubAnswerer{}
	h := newRouter(ans, false)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/", "", 200},
		{http.MethodGet, "/health/live", "", 200},
		{http.MethodGet, "/health/ready", "", 200},
		{http.MethodPost, "/hackrx/run", `{"documents":"d.pdf","questions":["q"]}`, 200},
		{http.MethodPost, "/api/v1/qa/run", `{"documents":"d.pdf","questions":["q"]}`, 200},
		{http.MethodGet, "/api/v1/cache/stats", "", 200},
		{http.MethodGet, "/hackrx/run", "", 405},
		{http.MethodGet, "/nope", "", 404},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.status {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s %s: missing X-Request-ID", tt.method, tt.path)
		}
	}
	if !ans.deadline {
		t.Error("request context carries no deadline")
	}
}

func TestCredentialReachesPipeline(t *testing.T) {
	ans := &stubAnswerer{}
	h := newRouter(ans, true)

	for _, token := range []string{"sk-user-key", "qa_valid"} {
		req := httptest.NewRequest(http.MethodPost, "/hackrx/run", strings.NewReader(`{"documents":"d.pdf","questions":["q"]}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("token %s: status = %d", token, rec.Code)
		}
		if ans.credential != token {
			t.Errorf("credential = %q, want %q", ans.credential, token)
		}
		if want := strings.HasPrefix(token, "sk-"); ans.requirePrimary != want {
			t.Errorf("token %s: requirePrimary = %v, want %v", token, ans.requirePrimary, want)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/hackrx/run", strings.NewReader(`{"documents":"d.pdf","questions":["q"]}`))
	req.Header.Set("Authorization", "Bearer qa_forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged key status = %d, want 401", rec.Code)
	}
}

type textFetcher string

func (f textFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return []byte(f), nil
}

// With service keys required, a provider-shaped key the provider rejects
// must not be served by the service's own backend.
func TestRejectedProviderKeyIsUnauthorized(t *testing.T) {
	defaultGen := &providertest.Generator{Label: "default"}
	selector := provider.NewSelector(provider.SelectorConfig{
		Factory: func(backend provider.Backend, apiKey string) (provider.Embedder, provider.Generator) {
			if backend == provider.BackendPrimary {
				emb := &providertest.HashEmbedder{Label: "primary"}
				if apiKey != "sk-real" {
					emb.Err = providertest.ErrUnauthorized
				}
				return emb, &providertest.Generator{Label: "primary"}
			}
			return &providertest.HashEmbedder{Label: "default"}, defaultGen
		},
		DefaultAPIKey: "service-key",
	})
	qa := pipeline.New(config.PipelineConfig{ChunkSize: 200, ChunkOverlap: 20, TopK: 2, MaxQueries: 1}, pipeline.Deps{
		Selector:  selector,
		Fetcher:   textFetcher("The grace period is thirty days."),
		Extractor: document.NewPDFExtractor(),
	})
	h := New(Options{
		QA:             qahandler.New(qa, nil, nil, 0),
		Health:         health.NewChecker(),
		Validator:      stubValidator{},
		ProviderPrefix: "sk-",
		RequestTimeout: time.Minute,
	})

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/hackrx/run", strings.NewReader(`{"documents":"d.txt","questions":["grace period?"]}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("sk-not-a-real-key"); code != http.StatusUnauthorized {
		t.Errorf("rejected provider key: status = %d, want 401", code)
	}
	if n := len(defaultGen.Prompts()); n != 0 {
		t.Errorf("default backend answered %d prompts for a rejected key", n)
	}
	if code := post("sk-real"); code != http.StatusOK {
		t.Errorf("accepted provider key: status = %d, want 200", code)
	}
	if code := post("qa_valid"); code != http.StatusOK {
		t.Errorf("service key: status = %d, want 200", code)
	}
}
