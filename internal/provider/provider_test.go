package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider/providertest"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/resilience"
)

// fakeAPI emulates the subset of the OpenAI HTTP API the client uses.
type fakeAPI struct {
	validKey   string
	chatReply  string
	chatStatus int
	embedCalls atomic.Int64
	chatCalls  atomic.Int64
	// chatDelay holds chat replies back, in nanoseconds.
	chatDelay atomic.Int64
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Header.Get("Authorization") != "Bearer "+f.validKey {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
		return
	}
	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		f.embedCalls.Add(1)
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Respond in reverse order to exercise index-based reordering.
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = item{Object: "embedding", Embedding: []float32{float32(len(req.Input[j])), 1, 0}, Index: j}
		}
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "m"})
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		f.chatCalls.Add(1)
		if d := time.Duration(f.chatDelay.Load()); d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		if f.chatStatus != 0 {
			w.WriteHeader(f.chatStatus)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": f.chatReply},
				"finish_reason": "stop",
			}},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newClient(t *testing.T, api *fakeAPI, key string, retry resilience.RetryConfig) *provider.Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return provider.NewClient(provider.ClientConfig{
		Backend:        provider.BackendDefault,
		BaseURL:        srv.URL + "/v1",
		APIKey:         key,
		EmbeddingModel: "embed-model",
		ChatModel:      "chat-model",
		EmbedBatchSize: 2,
		CallTimeout:    5 * time.Second,
		Retry:          retry,
	})
}

func TestClientEmbedBatchesAndOrders(t *testing.T) {
	api := &fakeAPI{validKey: "good"}
	c := newClient(t, api, "good", resilience.RetryConfig{})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	embs, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(embs) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(embs), len(texts))
	}
	for i, e := range embs {
		if int(e[0]) != len(texts[i]) {
			t.Errorf("embedding %d belongs to text of length %v, want %d", i, e[0], len(texts[i]))
		}
	}
	if got := api.embedCalls.Load(); got != 3 {
		t.Errorf("embedding requests = %d, want 3 batches", got)
	}
}

func TestClientAuthFailure(t *testing.T) {
	api := &fakeAPI{validKey: "good"}
	c := newClient(t, api, "sk-wrong", resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond})

	_, err := c.EmbedOne(context.Background(), "hello")
	if !errors.Is(err, apperrors.ErrEmbeddingProvider) {
		t.Fatalf("err = %v, want ErrEmbeddingProvider", err)
	}
	if !provider.IsAuthError(err) {
		t.Errorf("expected auth error classification for %v", err)
	}
	if got := api.embedCalls.Load(); got != 0 {
		t.Errorf("unauthenticated calls reached the handler: %d", got)
	}
}

func TestClientGenerate(t *testing.T) {
	api := &fakeAPI{validKey: "good", chatReply: "<final_answer>30 days</final_answer>"}
	c := newClient(t, api, "good", resilience.RetryConfig{})

	out, err := c.Generate(context.Background(), "question")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != api.chatReply {
		t.Errorf("Generate = %q, want %q", out, api.chatReply)
	}
}

func TestClientGenerateRetriesTransient(t *testing.T) {
	api := &fakeAPI{validKey: "good", chatStatus: http.StatusServiceUnavailable}
	c := newClient(t, api, "good", resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond})

	_, err := c.Generate(context.Background(), "question")
	if !errors.Is(err, apperrors.ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if got := api.chatCalls.Load(); got != 3 {
		t.Errorf("chat calls = %d, want 3 attempts", got)
	}
}

func TestIsTransient(t *testing.T) {
	if provider.IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if provider.IsTransient(context.Canceled) {
		t.Error("cancellation is not transient")
	}
	if !provider.IsTransient(errors.New("connection reset")) {
		t.Error("network errors are transient")
	}
	if provider.IsTransient(fmt.Errorf("generate: %w", context.DeadlineExceeded)) {
		t.Error("a caller deadline is not transient")
	}
	if !provider.IsTransient(fmt.Errorf("generate: %w: %w", resilience.ErrCallTimeout, context.DeadlineExceeded)) {
		t.Error("a per-call timeout is transient")
	}
}

func fakeFactory(primary, fallback provider.Embedder) provider.Factory {
	return func(backend provider.Backend, apiKey string) (provider.Embedder, provider.Generator) {
		if backend == provider.BackendPrimary {
			return primary, &providertest.Generator{Label: "primary"}
		}
		return fallback, &providertest.Generator{Label: "default"}
	}
}

func TestSelectorFallback(t *testing.T) {
	api := &fakeAPI{validKey: "sk-valid"}
	srv := httptest.NewServer(api)
	defer srv.Close()

	factory := func(backend provider.Backend, apiKey string) (provider.Embedder, provider.Generator) {
		if backend == provider.BackendPrimary {
			c := provider.NewClient(provider.ClientConfig{Backend: backend, BaseURL: srv.URL + "/v1", APIKey: apiKey, EmbeddingModel: "e"})
			return c, c
		}
		return &providertest.HashEmbedder{Label: "default"}, &providertest.Generator{Label: "default"}
	}
	sel := provider.NewSelector(provider.SelectorConfig{Factory: factory, DefaultAPIKey: "service"})

	tests := []struct {
		name       string
		credential string
		backend    provider.Backend
		reason     string
	}{
		{"no credential", "", provider.BackendDefault, provider.ReasonNoCredential},
		{"unrecognized shape", "AIza-something", provider.BackendDefault, provider.ReasonUnrecognized},
		{"bare prefix", "sk-", provider.BackendDefault, provider.ReasonUnrecognized},
		{"valid shape but invalid key", "sk-invalid", provider.BackendDefault, provider.ReasonPrimaryAuth},
		{"valid key", "sk-valid", provider.BackendPrimary, provider.ReasonPrimaryOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sel.Select(context.Background(), tt.credential)
			if got.Backend != tt.backend || got.Reason != tt.reason {
				t.Errorf("Select = (%s, %s), want (%s, %s)", got.Backend, got.Reason, tt.backend, tt.reason)
			}
			if got.Embedder == nil || got.Generator == nil {
				t.Error("selection must carry both capabilities")
			}
		})
	}
}

func TestSelectorNonAuthProbeFailure(t *testing.T) {
	primary := &providertest.HashEmbedder{Label: "primary", Err: providertest.ErrUnavailable}
	fallback := &providertest.HashEmbedder{Label: "default"}
	sel := provider.NewSelector(provider.SelectorConfig{Factory: fakeFactory(primary, fallback)})

	got := sel.Select(context.Background(), "sk-abc")
	if got.Backend != provider.BackendDefault || got.Reason != provider.ReasonPrimaryFailure {
		t.Fatalf("Select = (%s, %s)", got.Backend, got.Reason)
	}
	if got.Embedder != fallback {
		t.Error("fallback selection must use the default embedder")
	}
	if primary.Calls() != 1 {
		t.Errorf("primary probed %d times, want exactly once", primary.Calls())
	}
}

func TestSelectPrimaryNeverFallsBack(t *testing.T) {
	api := &fakeAPI{validKey: "sk-valid"}
	srv := httptest.NewServer(api)
	defer srv.Close()

	factory := func(backend provider.Backend, apiKey string) (provider.Embedder, provider.Generator) {
		if backend == provider.BackendPrimary {
			c := provider.NewClient(provider.ClientConfig{Backend: backend, BaseURL: srv.URL + "/v1", APIKey: apiKey, EmbeddingModel: "e"})
			return c, c
		}
		t.Error("default backend must not be built")
		return &providertest.HashEmbedder{Label: "default"}, &providertest.Generator{Label: "default"}
	}
	sel := provider.NewSelector(provider.SelectorConfig{Factory: factory, DefaultAPIKey: "service"})

	got, err := sel.SelectPrimary(context.Background(), "sk-valid")
	if err != nil || got.Backend != provider.BackendPrimary {
		t.Fatalf("SelectPrimary(valid) = (%s, %v)", got.Backend, err)
	}

	for _, credential := range []string{"sk-not-a-real-key", "AIza-something", "sk-"} {
		_, err := sel.SelectPrimary(context.Background(), credential)
		if !errors.Is(err, apperrors.ErrUnauthorized) || apperrors.HTTPStatusCode(err) != http.StatusUnauthorized {
			t.Errorf("SelectPrimary(%q) err = %v, want 401 unauthorized", credential, err)
		}
	}
}

func TestSelectPrimaryUnavailable(t *testing.T) {
	primary := &providertest.HashEmbedder{Label: "primary", Err: providertest.ErrUnavailable}
	sel := provider.NewSelector(provider.SelectorConfig{Factory: fakeFactory(primary, &providertest.HashEmbedder{Label: "default"})})

	_, err := sel.SelectPrimary(context.Background(), "sk-abc")
	if !errors.Is(err, apperrors.ErrEmbeddingProvider) {
		t.Fatalf("err = %v, want ErrEmbeddingProvider", err)
	}
}

func TestBreakerIgnoresCallerDeadlines(t *testing.T) {
	api := &fakeAPI{validKey: "good", chatReply: "ok"}
	api.chatDelay.Store(int64(time.Second))
	srv := httptest.NewServer(api)
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker("default-backend", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		IsFailure:        provider.IsTransient,
	})
	c := provider.NewClient(provider.ClientConfig{
		Backend:     provider.BackendDefault,
		BaseURL:     srv.URL + "/v1",
		APIKey:      "good",
		ChatModel:   "chat-model",
		CallTimeout: 5 * time.Second,
		Retry:       resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
		Breaker:     breaker,
	})

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := c.Generate(ctx, "q")
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("call %d: err = %v, want deadline exceeded", i, err)
		}
	}
	if breaker.GetState() != resilience.StateClosed {
		t.Fatalf("breaker = %v after caller deadlines, want closed", breaker.GetState())
	}
	if n := api.chatCalls.Load(); n > 5 {
		t.Errorf("chat calls = %d, caller deadlines must not be retried", n)
	}

	api.chatDelay.Store(0)
	if out, err := c.Generate(context.Background(), "q"); err != nil || out != "ok" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
}

func TestBreakerOpensOnCallTimeouts(t *testing.T) {
	api := &fakeAPI{validKey: "good", chatReply: "ok"}
	api.chatDelay.Store(int64(time.Second))
	srv := httptest.NewServer(api)
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker("default-backend", resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		IsFailure:        provider.IsTransient,
	})
	c := provider.NewClient(provider.ClientConfig{
		Backend:     provider.BackendDefault,
		BaseURL:     srv.URL + "/v1",
		APIKey:      "good",
		ChatModel:   "chat-model",
		CallTimeout: 20 * time.Millisecond,
		Breaker:     breaker,
	})

	for i := 0; i < 2; i++ {
		if _, err := c.Generate(context.Background(), "q"); !errors.Is(err, resilience.ErrCallTimeout) {
			t.Fatalf("call %d: err = %v, want ErrCallTimeout", i, err)
		}
	}
	if _, err := c.Generate(context.Background(), "q"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}
