// Package config loads and validates the shipwright service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Provider   ProviderConfig   `yaml:"provider"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Queue      QueueConfig      `yaml:"queue"`
	Poller     PollerConfig     `yaml:"poller"`
	Validation ValidationConfig `yaml:"validation"`
	Breakers   BreakersConfig   `yaml:"breakers"`
	Retry      RetryConfig      `yaml:"retry"`
	OTA        OTAConfig        `yaml:"ota"`
	NATS       NATSConfig       `yaml:"nats"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	PublicURL     string        `yaml:"public_url"` // Base URL used when minting signed artifact links
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	AdminToken    string        `yaml:"admin_token"` // Bearer token for queue inspection; empty disables those routes
}

// DatabaseConfig configures the persisted state store.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file path or ":memory:"
}

// StorageConfig configures artifact storage.
type StorageConfig struct {
	BasePath     string        `yaml:"base_path"`
	SigningKey   string        `yaml:"signing_key"`
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`
}

// ProviderConfig configures the external build provider client.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// WebhookConfig configures the inbound provider callback endpoint.
type WebhookConfig struct {
	Secret        string `yaml:"secret"`
	Path          string `yaml:"path"`
	RatePerMinute int    `yaml:"rate_per_minute"` // Per source IP
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

// QueueConfig configures the build job queue and worker pool.
type QueueConfig struct {
	Workers            int           `yaml:"workers"`
	RatePerMinute      int           `yaml:"rate_per_minute"`
	MaxAttempts        int           `yaml:"max_attempts"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	JobTimeout         time.Duration `yaml:"job_timeout"`
	CompletedRetention time.Duration `yaml:"completed_retention"`
	FailedRetention    time.Duration `yaml:"failed_retention"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// PollerConfig configures the status reconciliation loop.
type PollerConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

// ValidationConfig configures the pre-build validation pipeline.
type ValidationConfig struct {
	Bypass      bool              `yaml:"bypass"` // Emergency escape hatch, hot-reloadable
	Tier        string            `yaml:"tier"`
	Timeout     time.Duration     `yaml:"timeout"` // Per stage
	OutputLimit int               `yaml:"output_limit"`
	Commands    map[string]string `yaml:"commands"` // stage name -> command line
}

// BreakersConfig holds one breaker configuration per dependency.
type BreakersConfig struct {
	Provider BreakerConfig `yaml:"provider"`
	Storage  BreakerConfig `yaml:"storage"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
}

// RetryConfig configures retry-with-backoff for outbound calls.
type RetryConfig struct {
	Backoff      RetryBackoffMode `yaml:"backoff"`
	MaxAttempts  int              `yaml:"max_attempts"`
	InitialDelay time.Duration    `yaml:"initial_delay"`
	MaxDelay     time.Duration    `yaml:"max_delay"`
	Multiplier   float64          `yaml:"multiplier"`
	Jitter       float64          `yaml:"jitter"`
}

// OTAConfig configures the OTA release manager.
type OTAConfig struct {
	DefaultRuntimeVersion string `yaml:"default_runtime_version"`
	TopErrors             int    `yaml:"top_errors"`
}

// NATSConfig configures lifecycle event publishing. An empty URL disables publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads the configuration file at path, applies defaults and validates it.
// An empty path yields the default configuration. Variables from a .env file are
// loaded without overriding the process environment, and ${VAR} references in the
// YAML are expanded before parsing.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
