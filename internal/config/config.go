// Package config provides configuration loading for orchestd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Defaults are production-safe: resilience limits on, telemetry
// off until an OTLP endpoint is configured.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete orchestd configuration.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Engine     EngineConfig     `koanf:"engine"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Progress   ProgressConfig   `koanf:"progress"`
	Durable    DurableConfig    `koanf:"durable"`
	NATS       NATSConfig       `koanf:"nats"`
	Memsearch  MemsearchConfig  `koanf:"memsearch"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration. The cmd layer
// maps it onto the telemetry package's own config type.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	SamplingRate   float64  `koanf:"sampling_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
	// MetricsAddr is the Prometheus scrape listener. Empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`
}

// EngineConfig holds workflow engine limits.
type EngineConfig struct {
	// WorkflowTimeout is the hard ceiling on one workflow run.
	WorkflowTimeout Duration `koanf:"workflow_timeout"`
	// MaxDelegationDepth bounds the delegation stack.
	MaxDelegationDepth int `koanf:"max_delegation_depth"`
	// ReaperInterval is how often stale running records are swept.
	ReaperInterval Duration `koanf:"reaper_interval"`
	// RateLimit is agent invocations per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	// RateBurst is the limiter burst size.
	RateBurst int `koanf:"rate_burst"`
	// Agents lists the specialist agent types registered at startup.
	Agents []string `koanf:"agents"`
}

// ResilienceConfig holds retry and circuit breaker settings.
type ResilienceConfig struct {
	MaxAttempts      int      `koanf:"max_attempts"`
	InitialBackoff   Duration `koanf:"initial_backoff"`
	MaxBackoff       Duration `koanf:"max_backoff"`
	FailureThreshold int      `koanf:"failure_threshold"`
	OpenTimeout      Duration `koanf:"open_timeout"`
}

// ProgressConfig holds transient progress state settings.
type ProgressConfig struct {
	TTL Duration `koanf:"ttl"`
	// RefreshOnUpdate restarts the TTL window on every write instead of
	// keeping it fixed from creation.
	RefreshOnUpdate bool `koanf:"refresh_on_update"`
}

// DurableConfig holds the execution record store settings.
type DurableConfig struct {
	// Path is the sqlite database file. Empty means in-memory only.
	Path string `koanf:"path"`
}

// NATSConfig holds progress broadcast settings.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Token   Secret `koanf:"token"`
}

// MemsearchConfig holds the project memory vector store settings.
type MemsearchConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	CollectionName string `koanf:"collection_name"`
	VectorSize     uint64 `koanf:"vector_size"`
	UseTLS         bool   `koanf:"use_tls"`
	// EmbeddingURL is the OpenAI-compatible embeddings endpoint (TEI or
	// OpenAI). EmbeddingAPIKey is optional for TEI.
	EmbeddingURL    string `koanf:"embedding_url"`
	EmbeddingModel  string `koanf:"embedding_model"`
	EmbeddingAPIKey Secret `koanf:"embedding_api_key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "orchestd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.MetricsAddr == "" {
		cfg.Telemetry.MetricsAddr = "127.0.0.1:9091"
	}

	if cfg.Engine.WorkflowTimeout == 0 {
		cfg.Engine.WorkflowTimeout = Duration(300 * time.Second)
	}
	if cfg.Engine.MaxDelegationDepth == 0 {
		cfg.Engine.MaxDelegationDepth = 8
	}
	if cfg.Engine.ReaperInterval == 0 {
		cfg.Engine.ReaperInterval = Duration(30 * time.Second)
	}
	if cfg.Engine.RateBurst == 0 {
		cfg.Engine.RateBurst = 1
	}
	if len(cfg.Engine.Agents) == 0 {
		cfg.Engine.Agents = []string{"venture_expert"}
	}

	if cfg.Resilience.MaxAttempts == 0 {
		cfg.Resilience.MaxAttempts = 3
	}
	if cfg.Resilience.InitialBackoff == 0 {
		cfg.Resilience.InitialBackoff = Duration(time.Second)
	}
	if cfg.Resilience.MaxBackoff == 0 {
		cfg.Resilience.MaxBackoff = Duration(4 * time.Second)
	}
	if cfg.Resilience.FailureThreshold == 0 {
		cfg.Resilience.FailureThreshold = 5
	}
	if cfg.Resilience.OpenTimeout == 0 {
		cfg.Resilience.OpenTimeout = Duration(60 * time.Second)
	}

	if cfg.Progress.TTL == 0 {
		cfg.Progress.TTL = Duration(24 * time.Hour)
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}

	if cfg.Memsearch.Host == "" {
		cfg.Memsearch.Host = "localhost"
	}
	if cfg.Memsearch.Port == 0 {
		cfg.Memsearch.Port = 6334
	}
	if cfg.Memsearch.CollectionName == "" {
		cfg.Memsearch.CollectionName = "project_memories"
	}
	if cfg.Memsearch.VectorSize == 0 {
		cfg.Memsearch.VectorSize = 384
	}
	if cfg.Memsearch.EmbeddingURL == "" {
		cfg.Memsearch.EmbeddingURL = "http://localhost:8080/v1"
	}
	if cfg.Memsearch.EmbeddingModel == "" {
		cfg.Memsearch.EmbeddingModel = "BAAI/bge-small-en-v1.5"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.WorkflowTimeout.Duration() <= 0 {
		return errors.New("engine.workflow_timeout must be positive")
	}
	if c.Engine.MaxDelegationDepth < 1 {
		return fmt.Errorf("engine.max_delegation_depth must be at least 1, got %d", c.Engine.MaxDelegationDepth)
	}
	if c.Engine.RateLimit < 0 {
		return fmt.Errorf("engine.rate_limit cannot be negative, got %f", c.Engine.RateLimit)
	}

	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("resilience.max_attempts must be at least 1, got %d", c.Resilience.MaxAttempts)
	}
	if c.Resilience.InitialBackoff.Duration() <= 0 {
		return errors.New("resilience.initial_backoff must be positive")
	}
	if c.Resilience.MaxBackoff.Duration() < c.Resilience.InitialBackoff.Duration() {
		return errors.New("resilience.max_backoff must be at least initial_backoff")
	}
	if c.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("resilience.failure_threshold must be at least 1, got %d", c.Resilience.FailureThreshold)
	}
	if c.Resilience.OpenTimeout.Duration() <= 0 {
		return errors.New("resilience.open_timeout must be positive")
	}

	if c.Progress.TTL.Duration() <= 0 {
		return errors.New("progress.ttl must be positive")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint required when telemetry is enabled")
		}
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			return fmt.Errorf("telemetry.sampling_rate must be between 0 and 1, got %f", c.Telemetry.SamplingRate)
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats.url required when nats is enabled")
	}

	if c.Memsearch.Enabled {
		if c.Memsearch.Port < 1 || c.Memsearch.Port > 65535 {
			return fmt.Errorf("memsearch.port must be 1-65535, got %d", c.Memsearch.Port)
		}
		if c.Memsearch.VectorSize == 0 {
			return errors.New("memsearch.vector_size required when memsearch is enabled")
		}
		if c.Memsearch.EmbeddingURL == "" {
			return errors.New("memsearch.embedding_url required when memsearch is enabled")
		}
		if c.Memsearch.EmbeddingModel == "" {
			return errors.New("memsearch.embedding_model required when memsearch is enabled")
		}
	}

	return nil
}
