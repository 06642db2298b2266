// Package config loads and validates fetcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/bulk-fetcher/internal/fetch"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Backoff strategies accepted by fetch.backoff_strategy.
const (
	StrategyFixed       = "fixed"
	StrategyExponential = "exponential"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Fetch     FetchConfig     `mapstructure:"fetch"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Input     InputConfig     `mapstructure:"input"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// FetchConfig governs the scheduler and the retry loop.
type FetchConfig struct {
	TargetConcurrency      int           `mapstructure:"target_concurrency"`
	ForbiddenThreshold     int           `mapstructure:"forbidden_threshold"`
	ProgressReportInterval int           `mapstructure:"progress_report_interval"`
	InterPassBackoff       time.Duration `mapstructure:"inter_pass_backoff"`
	MaxPasses              int           `mapstructure:"max_passes"`
	BackoffStrategy        string        `mapstructure:"backoff_strategy"`
	BackoffMax             time.Duration `mapstructure:"backoff_max"`
	Verbose                bool          `mapstructure:"verbose"`
}

// HTTPConfig configures the shared HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// RateLimitConfig sets optional per-host pacing.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// InputConfig locates the URL list. An empty path reads stdin.
type InputConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig sets where result exports are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the result database. An empty DSN disables it.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for result notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls OpenTelemetry tracing of runs and passes.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.target_concurrency", fetch.DefaultTargetConcurrency)
	v.SetDefault("fetch.forbidden_threshold", fetch.DefaultForbiddenThreshold)
	v.SetDefault("fetch.progress_report_interval", fetch.DefaultProgressInterval)
	v.SetDefault("fetch.inter_pass_backoff", fetch.DefaultInterPassBackoff)
	v.SetDefault("fetch.max_passes", 0)
	v.SetDefault("fetch.backoff_strategy", StrategyFixed)
	v.SetDefault("fetch.backoff_max", 30*time.Minute)
	v.SetDefault("fetch.verbose", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "bulk-fetcher/0.1")
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("input.path", "")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "data/runs")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("storage.content_type", "application/x-ndjson")
	v.SetDefault("db.table", "fetch_results")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("progress.buffer_size", 8192)
	v.SetDefault("progress.max_batch_events", 500)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "bulk-fetcher")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.TargetConcurrency <= 0 {
		return fmt.Errorf("fetch.target_concurrency must be > 0")
	}
	if c.Fetch.ForbiddenThreshold < 0 {
		return fmt.Errorf("fetch.forbidden_threshold must be >= 0")
	}
	if c.Fetch.ProgressReportInterval <= 0 {
		return fmt.Errorf("fetch.progress_report_interval must be > 0")
	}
	if c.Fetch.InterPassBackoff < 0 {
		return fmt.Errorf("fetch.inter_pass_backoff must be >= 0")
	}
	if c.Fetch.MaxPasses < 0 {
		return fmt.Errorf("fetch.max_passes must be >= 0")
	}
	switch c.Fetch.BackoffStrategy {
	case StrategyFixed, StrategyExponential:
	default:
		return fmt.Errorf("fetch.backoff_strategy must be %q or %q", StrategyFixed, StrategyExponential)
	}
	if c.Fetch.BackoffStrategy == StrategyExponential && c.Fetch.BackoffMax <= 0 {
		return fmt.Errorf("fetch.backoff_max must be > 0 for the exponential strategy")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.DB.DSN != "" && c.DB.Table == "" {
		return fmt.Errorf("db.table must be set when db.dsn is configured")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PassConfig maps fetch settings onto the scheduler configuration.
func (c Config) PassConfig() fetch.PassConfig {
	return fetch.PassConfig{
		TargetConcurrency:  c.Fetch.TargetConcurrency,
		ForbiddenThreshold: c.Fetch.ForbiddenThreshold,
		ProgressInterval:   c.Fetch.ProgressReportInterval,
		Verbose:            c.Fetch.Verbose,
	}
}

// BackoffPolicy returns the inter-pass policy selected by fetch.backoff_strategy.
func (c Config) BackoffPolicy() fetch.BackoffPolicy {
	if c.Fetch.BackoffStrategy == StrategyExponential {
		return fetch.ExponentialBackoff{
			Base:      c.Fetch.InterPassBackoff,
			Max:       c.Fetch.BackoffMax,
			MaxPasses: c.Fetch.MaxPasses,
		}
	}
	return fetch.FixedBackoff{
		Delay:     c.Fetch.InterPassBackoff,
		MaxPasses: c.Fetch.MaxPasses,
	}
}
