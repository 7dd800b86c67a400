// Package config provides the unified configuration system for geopump.
// It defines a single BaseConfig structure used by the transfer manager and
// the remote store clients, ensuring consistent configuration across the
// library and the CLI.
//
// The configuration is organized into logical sections:
//   - Credentials: remote store endpoint and authentication
//   - Performance: stream buffering and compression
//   - Timeouts: connection and request timeouts
//   - Reliability: rate-limit retry behavior
//   - Observability: logging and metrics
//
// Example usage:
//
//	cfg := config.NewBaseConfig("my-transfer")
//	cfg.Credentials.BaseURL = "https://acme.carto.com"
//	cfg.Credentials.APIKey = os.Getenv("CARTO_API_KEY")
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"strings"
	"time"
)

// BaseConfig is the single unified configuration structure for geopump.
type BaseConfig struct {
	// Name identifies this transfer configuration
	Name string `yaml:"name" json:"name"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Credentials for the remote store
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`

	// Performance settings control stream buffering and compression
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define various timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for rate-limit handling
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// CredentialsConfig identifies and authenticates against the remote store.
// Either BaseURL+APIKey (hosted SQL API) or DSN (direct PostgreSQL wire
// access) must be set.
type CredentialsConfig struct {
	// BaseURL is the root URL of the hosted SQL API, e.g. https://user.carto.com
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey authenticates SQL API requests
	APIKey string `yaml:"api_key" json:"api_key"`
	// DSN is a PostgreSQL connection string for direct wire access
	DSN string `yaml:"dsn" json:"dsn"`
	// Schema overrides the remote schema; empty means the server's current schema
	Schema string `yaml:"schema" json:"schema"`
}

// PerformanceConfig contains performance-related settings.
type PerformanceConfig struct {
	// BufferSize sets the size of stream buffers in bytes
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// EnableGzip compresses upload bodies and requests compressed downloads
	EnableGzip bool `yaml:"enable_gzip" json:"enable_gzip"`
}

// TimeoutConfig contains timeout-related settings.
type TimeoutConfig struct {
	// Request timeout for individual SQL API calls (not COPY streams)
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// JobPollInterval between long-running query status polls
	JobPollInterval time.Duration `yaml:"job_poll_interval" json:"job_poll_interval"`
}

// ReliabilityConfig contains rate-limit retry settings. Only downloads are
// retried; a failed upload is fatal.
type ReliabilityConfig struct {
	// RetryAttempts is the rate-limit retry budget per download session
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the fallback delay when the server supplies no backoff
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// MaxRetryDelay caps the honored server-supplied backoff
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// LogLevel sets the zap log level (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat selects json or console encoding
	LogFormat string `yaml:"log_format" json:"log_format"`
	// EnableMetrics activates Prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
}

// NewBaseConfig creates a configuration with sensible defaults.
func NewBaseConfig(name string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Version: "1.0",
		Performance: PerformanceConfig{
			BufferSize: 64 * 1024,
			EnableGzip: true,
		},
		Timeouts: TimeoutConfig{
			Request:         30 * time.Second,
			Connection:      10 * time.Second,
			JobPollInterval: time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts: 3,
			RetryDelay:    time.Second,
			MaxRetryDelay: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			EnableMetrics: true,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *BaseConfig) Validate() error {
	if c.Credentials.DSN == "" {
		if c.Credentials.BaseURL == "" {
			return fmt.Errorf("credentials: either base_url or dsn is required")
		}
		if !strings.HasPrefix(c.Credentials.BaseURL, "http://") &&
			!strings.HasPrefix(c.Credentials.BaseURL, "https://") {
			return fmt.Errorf("credentials: base_url must be an http(s) URL, got %q", c.Credentials.BaseURL)
		}
		if c.Credentials.APIKey == "" {
			return fmt.Errorf("credentials: api_key is required with base_url")
		}
	}
	if c.Performance.BufferSize < 0 {
		return fmt.Errorf("performance: buffer_size must be >= 0, got %d", c.Performance.BufferSize)
	}
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability: retry_attempts must be >= 0, got %d", c.Reliability.RetryAttempts)
	}
	return nil
}
