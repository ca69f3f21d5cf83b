// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Pipeline, Providers, Cache, Postgres, Redis, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Providers ProvidersConfig `yaml:"providers"`
	Retry     RetryConfig     `yaml:"retry"`
	Document  DocumentConfig  `yaml:"document"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// FailurePolicy decides what happens to a batch when answering one question
// fails.
type FailurePolicy string

const (
	// FailureIsolate replaces the failed answer with an error marker and
	// keeps the other answers.
	FailureIsolate FailurePolicy = "isolate"
	// FailureAbort cancels the remaining questions and fails the request.
	FailureAbort FailurePolicy = "abort"
)

// PipelineConfig controls chunking, retrieval and answer generation.
type PipelineConfig struct {
	ChunkSize       int           `yaml:"chunkSize"`
	ChunkOverlap    int           `yaml:"chunkOverlap"`
	TopK            int           `yaml:"topK"`
	MaxQueries      int           `yaml:"maxQueries"`
	MaxConcurrency  int           `yaml:"maxConcurrency"`
	MaxContextChars int           `yaml:"maxContextChars"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	FailurePolicy   FailurePolicy `yaml:"failurePolicy"`
}

// BackendConfig describes one OpenAI-compatible embedding + chat backend.
type BackendConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	APIKey         string `yaml:"apiKey"`
	EmbeddingModel string `yaml:"embeddingModel"`
	ChatModel      string `yaml:"chatModel"`
	EmbedBatchSize int    `yaml:"embedBatchSize"`
}

// ProvidersConfig holds the primary (caller-keyed) and default
// (service-keyed) backends.
type ProvidersConfig struct {
	Primary       BackendConfig `yaml:"primary"`
	Default       BackendConfig `yaml:"default"`
	PrimaryPrefix string        `yaml:"primaryPrefix"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout"`
	CallTimeout   time.Duration `yaml:"callTimeout"`
}

// RetryConfig bounds retries of transient language-model failures.
// MaxAttempts of 1 disables retrying.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

// DocumentConfig limits document acquisition. LocalRoot is the only
// directory non-URL document references may read from; empty disables local
// documents.
type DocumentConfig struct {
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	MaxBytes     int64         `yaml:"maxBytes"`
	LocalRoot    string        `yaml:"localRoot"`
}

// CacheConfig selects the response cache backend: memory, redis or none.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuthConfig controls service-key validation of non-provider credentials.
type AuthConfig struct {
	RequireServiceKey bool          `yaml:"requireServiceKey"`
	ServiceKey        string        `yaml:"serviceKey"`
	RateLimit         int           `yaml:"rateLimit"`
	RateLimitWindow   time.Duration `yaml:"rateLimitWindow"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// AnalyticsConfig controls publishing of answer events to Kafka.
type AnalyticsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"bufferSize"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging of pipeline runs.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. It returns a Config populated with
// defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.ChunkSize <= 0 {
		return fmt.Errorf("pipeline.chunkSize must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("pipeline.chunkOverlap must be in [0, %d), got %d", p.ChunkSize, p.ChunkOverlap)
	}
	if p.MaxConcurrency <= 0 {
		return fmt.Errorf("pipeline.maxConcurrency must be positive, got %d", p.MaxConcurrency)
	}
	if p.MaxQueries <= 0 {
		return fmt.Errorf("pipeline.maxQueries must be positive, got %d", p.MaxQueries)
	}
	switch p.FailurePolicy {
	case FailureIsolate, FailureAbort:
	default:
		return fmt.Errorf("pipeline.failurePolicy must be %q or %q, got %q", FailureIsolate, FailureAbort, p.FailurePolicy)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.backend must be memory, redis or none, got %q", c.Cache.Backend)
	}
	if c.Auth.RequireServiceKey && !c.Postgres.Enabled {
		return fmt.Errorf("auth.requireServiceKey needs postgres.enabled")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    6 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Pipeline: PipelineConfig{
			ChunkSize:       1000,
			ChunkOverlap:    200,
			TopK:            7,
			MaxQueries:      4,
			MaxConcurrency:  10,
			MaxContextChars: 12000,
			RequestTimeout:  5 * time.Minute,
			FailurePolicy:   FailureIsolate,
		},
		Providers: ProvidersConfig{
			Primary: BackendConfig{
				BaseURL:        "https://api.openai.com/v1",
				EmbeddingModel: "text-embedding-3-small",
				ChatModel:      "gpt-4-turbo",
				EmbedBatchSize: 96,
			},
			Default: BackendConfig{
				BaseURL:        "https://generativelanguage.googleapis.com/v1beta/openai/",
				EmbeddingModel: "text-embedding-004",
				ChatModel:      "gemini-2.5-flash",
				EmbedBatchSize: 96,
			},
			PrimaryPrefix: "sk-",
			ProbeTimeout:  10 * time.Second,
			CallTimeout:   2 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:  1,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Document: DocumentConfig{
			FetchTimeout: 60 * time.Second,
			MaxBytes:     50 << 20,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     time.Hour,
		},
		Auth: AuthConfig{
			RateLimit:       60,
			RateLimitWindow: time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docqa",
			User:            "docqa",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				AnalyticsEvents: "qa-analytics-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Analytics: AnalyticsConfig{
			BufferSize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads QA_* environment variables, plus the provider key
// variables the original deployment used, and overrides the corresponding
// config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QA_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.Providers.Default.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Providers.Primary.APIKey == "" {
		cfg.Providers.Primary.APIKey = v
	}
	if v := os.Getenv("QA_DEFAULT_BASE_URL"); v != "" {
		cfg.Providers.Default.BaseURL = v
	}
	if v := os.Getenv("QA_PRIMARY_BASE_URL"); v != "" {
		cfg.Providers.Primary.BaseURL = v
	}
	if v := os.Getenv("SERVICE_API_KEY"); v != "" {
		cfg.Auth.ServiceKey = v
	}
	if v := os.Getenv("QA_REQUIRE_SERVICE_KEY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.RequireServiceKey = b
		}
	}
	if v := os.Getenv("QA_PIPELINE_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxConcurrency = n
		}
	}
	if v := os.Getenv("QA_PIPELINE_FAILURE_POLICY"); v != "" {
		cfg.Pipeline.FailurePolicy = FailurePolicy(v)
	}
	if v := os.Getenv("QA_DOCUMENT_LOCAL_ROOT"); v != "" {
		cfg.Document.LocalRoot = v
	}
	if v := os.Getenv("QA_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("QA_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("QA_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("QA_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("QA_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("QA_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("QA_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("QA_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("QA_ANALYTICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Analytics.Enabled = b
		}
	}
	if v := os.Getenv("QA_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("QA_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("QA_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QA_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
