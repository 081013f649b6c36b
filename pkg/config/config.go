// Package config loads the process configuration from file and
// environment. Every knob has a typed default; environment variables use
// the REMSTORE_ prefix with dots replaced by underscores
// (database.max_connections -> REMSTORE_DATABASE_MAX_CONNECTIONS).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig contains relational store settings
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	DSN            string        `mapstructure:"dsn"`
	Schema         string        `mapstructure:"schema"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxUsage       int           `mapstructure:"max_usage"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	PingOnBorrow   bool          `mapstructure:"ping_on_borrow"`
}

// RedisConfig contains the KV fast-layer settings
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	APIKey     string `mapstructure:"api_key"`
	CacheSize  int    `mapstructure:"cache_size"`
}

// LLMConfig tunes the dreaming LLM client
type LLMConfig struct {
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// QueueConfig tunes the storage-event queue
type QueueConfig struct {
	SQSURL       string `mapstructure:"sqs_url"`
	Capacity     int    `mapstructure:"capacity"`
	ReceiveBatch int    `mapstructure:"receive_batch"`
	WaitSeconds  int    `mapstructure:"wait_seconds"`
}

// WorkerConfig tunes the storage-event worker
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	ChunkOverlap   int           `mapstructure:"chunk_overlap"`
}

// DreamingConfig tunes the enrichment pipelines
type DreamingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Lookback      time.Duration `mapstructure:"lookback"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	ContextTokens int           `mapstructure:"context_tokens"`
	MaxRecords    int           `mapstructure:"max_records"`

	SkipMoments  bool `mapstructure:"skip_moments"`
	SkipAffinity bool `mapstructure:"skip_affinity"`
	SkipEntities bool `mapstructure:"skip_entities"`
	SkipSummary  bool `mapstructure:"skip_summary"`

	AffinityTopK         int     `mapstructure:"affinity_top_k"`
	AffinityThreshold    float64 `mapstructure:"affinity_threshold"`
	AffinityUseLLM       bool    `mapstructure:"affinity_use_llm"`
	AffinityLLMThreshold float64 `mapstructure:"affinity_llm_threshold"`
}

// EmailConfig tunes digest dispatch
type EmailConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	SMTPAddr          string `mapstructure:"smtp_addr"`
	From              string `mapstructure:"from"`
	RecipientOverride string `mapstructure:"recipient_override"`
}

// RateLimitConfig tunes the per-tenant LLM/embedding token bucket
type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// Config is the complete process configuration
type Config struct {
	Environment string          `mapstructure:"environment"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Embedding   EmbeddingConfig `mapstructure:"embedding"`
	LLM         LLMConfig       `mapstructure:"llm"`
	Queue       QueueConfig     `mapstructure:"queue"`
	Worker      WorkerConfig    `mapstructure:"worker"`
	Dreaming    DreamingConfig  `mapstructure:"dreaming"`
	Email       EmailConfig     `mapstructure:"email"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// Load reads configuration from the file named by REMSTORE_CONFIG_FILE
// (default configs/config.yaml) plus REMSTORE_-prefixed environment
// variables. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("REMSTORE_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("REMSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	// Common unprefixed variables from container environments
	_ = v.BindEnv("database.dsn", "REMSTORE_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("redis.address", "REMSTORE_REDIS_ADDRESS", "REDIS_ADDR")
	_ = v.BindEnv("queue.sqs_url", "REMSTORE_QUEUE_SQS_URL", "SQS_QUEUE_URL")
	_ = v.BindEnv("llm.api_key", "REMSTORE_LLM_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("embedding.api_key", "REMSTORE_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(configFile); statErr == nil {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.schema", "rem")
	v.SetDefault("database.max_connections", 16)
	v.SetDefault("database.max_usage", 1000)
	v.SetDefault("database.max_lifetime", time.Hour)
	v.SetDefault("database.ping_on_borrow", false)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.cache_size", 4096)

	v.SetDefault("llm.model", "claude-haiku-4-5")
	v.SetDefault("llm.max_tokens", 2048)

	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.receive_batch", 10)
	v.SetDefault("queue.wait_seconds", 20)

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.initial_backoff", 500*time.Millisecond)
	v.SetDefault("worker.chunk_size", 1000)
	v.SetDefault("worker.chunk_overlap", 200)

	v.SetDefault("dreaming.enabled", true)
	v.SetDefault("dreaming.interval", time.Hour)
	v.SetDefault("dreaming.lookback", 6*time.Hour)
	v.SetDefault("dreaming.lease_ttl", 15*time.Minute)
	v.SetDefault("dreaming.context_tokens", 6000)
	v.SetDefault("dreaming.max_records", 200)
	v.SetDefault("dreaming.affinity_top_k", 5)
	v.SetDefault("dreaming.affinity_threshold", 0.75)
	v.SetDefault("dreaming.affinity_use_llm", false)
	v.SetDefault("dreaming.affinity_llm_threshold", 0.5)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_addr", "localhost:25")
	v.SetDefault("email.from", "remstore@localhost")

	v.SetDefault("rate_limit.per_second", 2.0)
	v.SetDefault("rate_limit.burst", 4)
}
