package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/resilience"
)

// ClientConfig configures an OpenAI-compatible backend client.
type ClientConfig struct {
	Backend        Backend
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	EmbedBatchSize int
	CallTimeout    time.Duration
	Retry          resilience.RetryConfig
	// Breaker is optional and shared by every client of the same backend.
	Breaker *resilience.CircuitBreaker
	Metrics *metrics.Metrics
}

// Client talks to an OpenAI-compatible API (OpenAI itself, or Gemini's
// OpenAI-compatible endpoint) and implements both Embedder and Generator.
type Client struct {
	api    *openai.Client
	cfg    ClientConfig
	logger *slog.Logger
}

// NewClient builds a Client for cfg.
func NewClient(cfg ClientConfig) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 96
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: slog.Default().With("component", "llm-client", "backend", string(cfg.Backend)),
	}
}

// Name returns the backend tag and model names.
func (c *Client) Name() string {
	return fmt.Sprintf("%s(%s,%s)", c.cfg.Backend, c.cfg.EmbeddingModel, c.cfg.ChatModel)
}

// Embed embeds texts in batches of EmbedBatchSize, sent sequentially.
func (c *Client) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	out := make([]Embedding, 0, len(texts))
	dim := 0
	for start := 0; start < len(texts); start += c.cfg.EmbedBatchSize {
		end := min(start+c.cfg.EmbedBatchSize, len(texts))
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		for _, e := range batch {
			if dim == 0 {
				dim = len(e)
			}
			if len(e) != dim {
				return nil, fmt.Errorf("%w: embedding dimension changed from %d to %d", apperrors.ErrDimensionMismatch, dim, len(e))
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) (Embedding, error) {
	out, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	var resp openai.EmbeddingResponse
	err := c.call(ctx, "embed", func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(c.cfg.EmbeddingModel),
		})
		return err
	})
	c.cfg.Metrics.ObserveEmbedding(string(c.cfg.Backend), err)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrEmbeddingProvider, http.StatusBadGateway, err,
			fmt.Sprintf("%s backend rejected a batch of %d texts", c.cfg.Backend, len(texts)))
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.Newf(apperrors.ErrEmbeddingProvider, http.StatusBadGateway,
			"%s backend returned %d embeddings for %d texts", c.cfg.Backend, len(resp.Data), len(texts))
	}
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([]Embedding, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, apperrors.Newf(apperrors.ErrEmbeddingProvider, http.StatusBadGateway,
				"%s backend returned an empty embedding", c.cfg.Backend)
		}
		out[i] = Embedding(d.Embedding)
	}
	return out, nil
}

// Generate sends prompt as a single user message and returns the first
// choice's content.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var resp openai.ChatCompletionResponse
	err := c.call(ctx, "generate", func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.cfg.ChatModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			// A literal zero is dropped by omitempty and the API would
			// fall back to its default temperature.
			Temperature: math.SmallestNonzeroFloat32,
		})
		return err
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrGeneration, http.StatusBadGateway, err,
			fmt.Sprintf("%s backend generation failed", c.cfg.Backend))
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Newf(apperrors.ErrGeneration, http.StatusBadGateway,
			"%s backend returned no choices", c.cfg.Backend)
	}
	return resp.Choices[0].Message.Content, nil
}

// call runs fn under the per-call timeout, the shared circuit breaker and
// the bounded retry policy. Only transient failures are retried. Calls cut
// short by ctx are neither retried nor counted by the breaker.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := func() error {
		return resilience.WithTimeout(ctx, c.cfg.CallTimeout, string(c.cfg.Backend)+"."+op, fn)
	}
	return resilience.Retry(ctx, string(c.cfg.Backend)+"."+op, c.cfg.Retry, func() error {
		var err error
		if c.cfg.Breaker != nil {
			err = c.cfg.Breaker.Execute(ctx, attempt)
		} else {
			err = attempt()
		}
		if err != nil && !IsTransient(err) {
			return resilience.Permanent(err)
		}
		return err
	})
}

// StatusCode extracts the HTTP status of an API failure, or 0 when the error
// did not come from an HTTP response.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// IsAuthError reports whether err is an authentication/authorization
// rejection from the backend.
func IsAuthError(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// IsTransient reports whether err is worth retrying: rate limiting, server
// errors, per-call timeouts and network failures without a response. A
// caller's own cancellation or deadline is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, resilience.ErrCallTimeout) {
		return false
	}
	code := StatusCode(err)
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return true
	case code != 0:
		return false
	}
	return true
}
