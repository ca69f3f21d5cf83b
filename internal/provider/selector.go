package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/resilience"
)

// Selection reasons, used as metric labels.
const (
	ReasonPrimaryOK      = "primary_ok"
	ReasonNoCredential   = "no_credential"
	ReasonUnrecognized   = "unrecognized_credential"
	ReasonPrimaryAuth    = "primary_auth_failed"
	ReasonPrimaryFailure = "primary_probe_failed"
)

const (
	probeText             = "test"
	defaultProbeTimeout   = 10 * time.Second
	defaultPrimaryPattern = "sk-"
)

// Factory builds the embedder and generator of a backend for apiKey.
type Factory func(backend Backend, apiKey string) (Embedder, Generator)

// Selector resolves the backend pair for a request.
type Selector struct {
	factory       Factory
	defaultKey    string
	primaryPrefix string
	probeTimeout  time.Duration
	metrics       *metrics.Metrics
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	Factory       Factory
	DefaultAPIKey string
	PrimaryPrefix string
	ProbeTimeout  time.Duration
	Metrics       *metrics.Metrics
}

// NewSelector creates a Selector.
func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.PrimaryPrefix == "" {
		cfg.PrimaryPrefix = defaultPrimaryPattern
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Selector{
		factory:       cfg.Factory,
		defaultKey:    cfg.DefaultAPIKey,
		primaryPrefix: cfg.PrimaryPrefix,
		probeTimeout:  cfg.ProbeTimeout,
		metrics:       cfg.Metrics,
	}
}

// Recognized reports whether credential has the primary backend's key shape.
func (s *Selector) Recognized(credential string) bool {
	return strings.HasPrefix(credential, s.primaryPrefix) && len(credential) > len(s.primaryPrefix)
}

// Select picks the backend pair once per request. A credential of the
// primary shape is probed with a one-input embedding call; any failure of
// the probe falls back to the default backend for the whole request.
func (s *Selector) Select(ctx context.Context, credential string) Selection {
	log := logger.FromContext(ctx).With("component", "provider-selector")

	var reason string
	switch {
	case credential == "":
		reason = ReasonNoCredential
	case !s.Recognized(credential):
		reason = ReasonUnrecognized
	default:
		sel, err := s.probe(ctx, credential)
		if err == nil {
			return sel
		}
		reason = probeReason(err)
		log.Info("falling back to default backend", "reason", reason, "error", err)
	}

	emb, gen := s.factory(BackendDefault, s.defaultKey)
	s.metrics.ObserveSelection(string(BackendDefault), reason)
	log.Debug("using default backend", "reason", reason, "embedder", emb.Name())
	return Selection{Backend: BackendDefault, Embedder: emb, Generator: gen, Reason: reason}
}

// SelectPrimary resolves credential to the primary backend without any
// fallback. It is used when the credential itself is the caller's proof of
// access: a rejected key is ErrUnauthorized, any other probe failure is an
// embedding provider error.
func (s *Selector) SelectPrimary(ctx context.Context, credential string) (Selection, error) {
	if !s.Recognized(credential) {
		s.metrics.ObserveSelection(string(BackendPrimary), ReasonUnrecognized)
		return Selection{}, apperrors.New(apperrors.ErrUnauthorized, http.StatusUnauthorized, "provider key has an unrecognized shape")
	}
	sel, err := s.probe(ctx, credential)
	if err == nil {
		return sel, nil
	}
	reason := probeReason(err)
	s.metrics.ObserveSelection(string(BackendPrimary), reason)
	logger.FromContext(ctx).Info("provider key refused", "component", "provider-selector", "reason", reason, "error", err)
	if reason == ReasonPrimaryAuth {
		return Selection{}, apperrors.Wrap(apperrors.ErrUnauthorized, http.StatusUnauthorized, err, "provider key rejected")
	}
	return Selection{}, apperrors.Wrap(apperrors.ErrEmbeddingProvider, http.StatusBadGateway, err, "provider key could not be verified")
}

func (s *Selector) probe(ctx context.Context, credential string) (Selection, error) {
	emb, gen := s.factory(BackendPrimary, credential)
	err := resilience.WithTimeout(ctx, s.probeTimeout, "primary-probe", func(ctx context.Context) error {
		_, err := emb.EmbedOne(ctx, probeText)
		return err
	})
	if err != nil {
		return Selection{}, err
	}
	s.metrics.ObserveSelection(string(BackendPrimary), ReasonPrimaryOK)
	logger.FromContext(ctx).Info("using primary backend", "component", "provider-selector", "embedder", emb.Name())
	return Selection{Backend: BackendPrimary, Embedder: emb, Generator: gen, Reason: ReasonPrimaryOK}, nil
}

func probeReason(err error) string {
	if IsAuthError(err) {
		return ReasonPrimaryAuth
	}
	return ReasonPrimaryFailure
}

// NewOpenAIFactory returns a Factory that builds OpenAI-compatible clients
// from the providers configuration. The default backend shares one circuit
// breaker across requests since it is keyed by the service's own credential.
func NewOpenAIFactory(cfg config.ProvidersConfig, retry config.RetryConfig, m *metrics.Metrics) Factory {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  retry.MaxAttempts,
		InitialDelay: retry.InitialDelay,
		MaxDelay:     retry.MaxDelay,
	}
	defaultBreaker := resilience.NewCircuitBreaker("default-backend", resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		IsFailure:        IsTransient,
		OnStateChange: func(name string, to resilience.State) {
			m.SetBreakerState(name, int(to))
		},
	})
	return func(backend Backend, apiKey string) (Embedder, Generator) {
		b := cfg.Default
		var breaker *resilience.CircuitBreaker
		if backend == BackendPrimary {
			b = cfg.Primary
		} else {
			breaker = defaultBreaker
		}
		client := NewClient(ClientConfig{
			Backend:        backend,
			BaseURL:        b.BaseURL,
			APIKey:         apiKey,
			EmbeddingModel: b.EmbeddingModel,
			ChatModel:      b.ChatModel,
			EmbedBatchSize: b.EmbedBatchSize,
			CallTimeout:    cfg.CallTimeout,
			Retry:          retryCfg,
			Breaker:        breaker,
			Metrics:        m,
		})
		return client, client
	}
}
