// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// SchedulerConfig controls the C10 cadence engine.
type SchedulerConfig struct {
	Enabled               bool `yaml:"enabled"`
	IntervalHours         int  `yaml:"interval_hours"`
	AutoApplyRelationship bool `yaml:"auto_apply_relationships"`
}

// RankerConfig holds the ranker.* knobs. ApplyDefaults fills them in, but the
// C4 Ranker does not read them: it always uses a candidate pool of 3×k capped
// at 100 and clamps k to [1,100].
type RankerConfig struct {
	TopCandidateMultiplier int `yaml:"top_candidate_multiplier"`
	MinCandidates          int `yaml:"min_candidates"`
	MaxCandidates          int `yaml:"max_candidates"`
}

// PredictorConfig controls the C7 cache.
type PredictorConfig struct {
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	MinConfidence   float64 `yaml:"min_confidence"`
}

// MaintenanceConfig holds the maintenance.* knobs. ApplyDefaults fills them
// in, but the C8 MaintenanceAnalyzer does not read them: it always uses a
// 0.85 duplicate threshold, 90 days for outdated and 180 days for archive
// candidates.
type MaintenanceConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	OutdatedDays       int     `yaml:"outdated_days"`
	ArchiveDays        int     `yaml:"archive_days"`
}

// PatternMinerConfig controls C6, including the one ungated knob this repo
// adds beyond the recognized set (the sequence-detection window).
type PatternMinerConfig struct {
	SequenceWindowMinutes int `yaml:"sequence_window_minutes"`
}

// CircuitBreakerConfig holds the circuit_breaker.* knobs. ApplyDefaults fills
// them in, but the embedding provider and the classifier do not read them:
// both use resilience.DefaultConfig (open after 5 consecutive failures,
// half-open after 60s).
type CircuitBreakerConfig struct {
	Threshold      int `yaml:"threshold"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend          string `yaml:"backend"` // "memory" | "postgres"
	DSN              string `yaml:"dsn"`
	VectorBackend    string `yaml:"vector_backend"` // "qdrant", or anything else (default: Backend) for the store's own KNN
	QdrantAddr       string `yaml:"qdrant_addr"`
	QdrantCollection string `yaml:"qdrant_collection"`
	EmbeddingDims    int    `yaml:"embedding_dimensions"`
}

// EmbeddingConfig configures the external embedding provider HTTP client.
type EmbeddingConfig struct {
	BaseURL   string            `yaml:"base_url"`
	Path      string            `yaml:"path"`
	Model     string            `yaml:"model"`
	APIKey    string            `yaml:"api_key,omitempty"`
	APIHeader string            `yaml:"api_header,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   int               `yaml:"timeout_seconds"`
}

// ClassifierConfig configures the auto-save LLM classifier.
type ClassifierConfig struct {
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key,omitempty"`
	Timeout   int    `yaml:"timeout_seconds"`
}

// EventsConfig configures the external event sink.
type EventsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// DispatchConfig bounds the fire-and-forget worker pool.
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// LoggingConfig controls zerolog initialization.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// Config is the complete, validated engine configuration.
type Config struct {
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Ranker         RankerConfig         `yaml:"ranker"`
	Predictor      PredictorConfig      `yaml:"predictor"`
	Maintenance    MaintenanceConfig    `yaml:"maintenance"`
	PatternMiner   PatternMinerConfig   `yaml:"pattern_miner"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Store          StoreConfig          `yaml:"store"`
	Embedding      EmbeddingConfig      `yaml:"embedding"`
	Classifier     ClassifierConfig     `yaml:"classifier"`
	Events         EventsConfig         `yaml:"events"`
	Dispatch       DispatchConfig       `yaml:"dispatch"`
	OTel           TelemetryConfig      `yaml:"otel"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// Interval returns the configured cadence as a time.Duration.
func (c SchedulerConfig) Interval() time.Duration {
	if c.IntervalHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.IntervalHours) * time.Hour
}

// CacheTTL returns the configured TTL as a time.Duration.
func (c PredictorConfig) CacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LoadConfig reads filename, applies the recognized defaults (§6), and
// reports what it defaulted the way the rest of this codebase's config
// loader does.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("Error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("Error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	ApplyDefaults(&cfg)
	pterm.Success.Println("Configuration loaded successfully.")
	return &cfg, nil
}

// ApplyDefaults fills in every recognized knob's documented default. It
// reports through pterm only the scheduler interval, ranker multiplier,
// predictor cache TTL, sequence window and store backend defaults; the rest
// are filled in silently.
func ApplyDefaults(cfg *Config) {
	if cfg.Scheduler.IntervalHours <= 0 {
		cfg.Scheduler.IntervalHours = 1
		pterm.Info.Println("scheduler.interval_hours not specified, using default (1).")
	}
	if cfg.Ranker.TopCandidateMultiplier <= 0 {
		cfg.Ranker.TopCandidateMultiplier = 3
		pterm.Info.Println("ranker.top_candidate_multiplier not specified, using default (3).")
	}
	if cfg.Ranker.MinCandidates <= 0 {
		cfg.Ranker.MinCandidates = 1
	}
	if cfg.Ranker.MaxCandidates <= 0 {
		cfg.Ranker.MaxCandidates = 100
	}
	if cfg.Predictor.CacheTTLSeconds <= 0 {
		cfg.Predictor.CacheTTLSeconds = 3600
		pterm.Info.Println("predictor.cache_ttl_seconds not specified, using default (3600).")
	}
	if cfg.Predictor.MinConfidence <= 0 {
		cfg.Predictor.MinConfidence = 0.30
	}
	if cfg.Maintenance.DuplicateThreshold <= 0 {
		cfg.Maintenance.DuplicateThreshold = 0.85
	}
	if cfg.Maintenance.OutdatedDays <= 0 {
		cfg.Maintenance.OutdatedDays = 90
	}
	if cfg.Maintenance.ArchiveDays <= 0 {
		cfg.Maintenance.ArchiveDays = 180
	}
	if cfg.PatternMiner.SequenceWindowMinutes <= 0 {
		cfg.PatternMiner.SequenceWindowMinutes = 30
		pterm.Info.Println("pattern_miner.sequence_window_minutes not specified, using default (30).")
	}
	if cfg.CircuitBreaker.Threshold <= 0 {
		cfg.CircuitBreaker.Threshold = 5
	}
	if cfg.CircuitBreaker.TimeoutSeconds <= 0 {
		cfg.CircuitBreaker.TimeoutSeconds = 60
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
		pterm.Warning.Println("store.backend not specified, using in-process memory store (not durable).")
	}
	if cfg.Store.VectorBackend == "" {
		cfg.Store.VectorBackend = cfg.Store.Backend
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = 256
	}
	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = 30
	}
	if cfg.Classifier.Timeout <= 0 {
		cfg.Classifier.Timeout = 30
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "adaptive-memory-engine"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
