package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/auth/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/gateway/router"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/cache"
	qahandler "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/handler"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting document qa service",
		"port", cfg.Server.Port,
		"failure_policy", cfg.Pipeline.FailurePolicy,
		"max_concurrency", cfg.Pipeline.MaxConcurrency,
	)
	if cfg.Providers.Default.APIKey == "" {
		slog.Warn("GOOGLE_API_KEY is not set, requests without a provider key will fail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		metricsServer := metrics.NewServer(cfg.Metrics.Port, nil)
		metricsServer.Start()
		defer metricsServer.Shutdown(context.Background())
	}

	checker := health.NewChecker()

	answerCache, closeCache := setupCache(cfg, m, checker)
	defer closeCache()

	var validator *apikey.Validator
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		checker.Register("postgres", health.PingCheck(db.Ping, false))

		validator = apikey.NewValidator(db)
		if cfg.Auth.ServiceKey != "" {
			if _, err := validator.Bootstrap(ctx, cfg.Auth.ServiceKey, cfg.Auth.RateLimit); err != nil {
				slog.Error("failed to bootstrap service key", "error", err)
				os.Exit(1)
			}
		}
	}

	var collector *analytics.Collector
	var aggregator *analytics.Aggregator
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		checker.Register("kafka", health.PingCheck(producer.Ping, true))

		aggregator = analytics.NewAggregator()
		collector = analytics.NewCollector(producer, aggregator, 100, cfg.Analytics.BufferSize, 5*time.Second)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("analytics enabled", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}

	selector := provider.NewSelector(provider.SelectorConfig{
		Factory:       provider.NewOpenAIFactory(cfg.Providers, cfg.Retry, m),
		DefaultAPIKey: cfg.Providers.Default.APIKey,
		PrimaryPrefix: cfg.Providers.PrimaryPrefix,
		ProbeTimeout:  cfg.Providers.ProbeTimeout,
		Metrics:       m,
	})
	qa := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Selector:  selector,
		Fetcher:   document.NewFetcher(cfg.Document.FetchTimeout, cfg.Document.MaxBytes, cfg.Document.LocalRoot),
		Extractor: document.NewPDFExtractor(),
		Cache:     answerCache,
		Metrics:   m,
		Tracing:   cfg.Tracing.Enabled,
	})

	limiter := ratelimit.New(cfg.Auth.RateLimitWindow)
	go limiter.RunCleanup(ctx, 5*time.Minute)

	opts := router.Options{
		QA:              qahandler.New(qa, answerCache, collector, 0),
		Health:          checker,
		Metrics:         m,
		ProviderPrefix:  cfg.Providers.PrimaryPrefix,
		Limiter:         limiter,
		RateLimit:       cfg.Auth.RateLimit,
		RateLimitWindow: cfg.Auth.RateLimitWindow,
		RequestTimeout:  cfg.Pipeline.RequestTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}
	if aggregator != nil {
		opts.Analytics = analytics.NewHandler(aggregator)
	}
	if cfg.Auth.RequireServiceKey {
		opts.Validator = validator
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("document qa service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("document qa service stopped")
}

// setupCache builds the answer cache selected by cfg.Cache.Backend. A Redis
// outage at start-up falls back to the in-process cache.
func setupCache(cfg *config.Config, m *metrics.Metrics, checker *health.Checker) (*cache.AnswerCache, func()) {
	switch cfg.Cache.Backend {
	case "none":
		slog.Info("answer cache disabled")
		return nil, func() {}
	case "redis":
		client, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory answer cache", "error", err)
			break
		}
		checker.Register("redis", health.PingCheck(client.Ping, true))
		slog.Info("answer cache enabled", "backend", "redis", "addr", cfg.Redis.Addr, "ttl", cfg.Cache.TTL)
		return cache.New(cache.NewRedis(client), cfg.Cache.TTL, m), func() { client.Close() }
	}
	slog.Info("answer cache enabled", "backend", "memory", "ttl", cfg.Cache.TTL)
	return cache.New(cache.NewMemory(nil), cfg.Cache.TTL, m), func() {}
}
