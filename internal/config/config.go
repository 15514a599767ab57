package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config represents the complete application configuration. Values come
// from built-in defaults, an optional YAML config file, a .env file and
// REQUESTERCTL_* environment variables, in increasing precedence.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// APIConfig locates and authenticates against the helpdesk API.
type APIConfig struct {
	// URL is the API base, e.g. https://example.freshservice.com/api/v2
	URL string `mapstructure:"url"`
	// Key is sent as the basic-auth username with an empty password.
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitConfig tunes the dispatcher's pacing and retry behaviour.
type RateLimitConfig struct {
	MaxPerMinute          int           `mapstructure:"max_per_minute"`
	Window                time.Duration `mapstructure:"window"`
	LowRemainingThreshold int           `mapstructure:"low_remaining_threshold"`
	LowRemainingPause     time.Duration `mapstructure:"low_remaining_pause"`
	DefaultRetryAfter     time.Duration `mapstructure:"default_retry_after"`
	TransportBackoff      time.Duration `mapstructure:"transport_backoff"`

	// Zero means retry forever.
	MaxTransportRetries int `mapstructure:"max_transport_retries"`
	MaxRateLimitRetries int `mapstructure:"max_rate_limit_retries"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format selects text (SIMPLE profile) or json (STRUCTURED profile).
	Format string `mapstructure:"format"`
}

// JournalConfig contains the libsql/Turso outcome journal settings.
type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// File receives the run's metrics in Prometheus text format when set.
	File string `mapstructure:"file"`
}

// Validate reports the first configuration problem that prevents a run.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config not loaded")
	}

	apiURL := strings.TrimSpace(c.API.URL)
	if apiURL == "" {
		return errors.New("api.url is required (set REQUESTERCTL_API_URL or API_URL)")
	}
	parsed, err := url.Parse(apiURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return fmt.Errorf("api.url %q must be an absolute http(s) URL", apiURL)
	}
	if strings.TrimSpace(c.API.Key) == "" {
		return errors.New("api.key is required (set REQUESTERCTL_API_KEY or API_KEY)")
	}
	if c.API.Timeout < 0 {
		return errors.New("api.timeout must not be negative")
	}

	rl := c.RateLimit
	if rl.MaxPerMinute < 1 {
		return errors.New("rate_limit.max_per_minute must be at least 1")
	}
	if rl.Window <= 0 {
		return errors.New("rate_limit.window must be positive")
	}
	if rl.LowRemainingThreshold < 0 || rl.LowRemainingPause < 0 || rl.DefaultRetryAfter < 0 || rl.TransportBackoff < 0 {
		return errors.New("rate_limit thresholds and durations must not be negative")
	}
	if rl.MaxTransportRetries < 0 || rl.MaxRateLimitRetries < 0 {
		return errors.New("rate_limit retry bounds must not be negative")
	}

	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" && strings.TrimSpace(c.Journal.URL) == "" {
		return errors.New("journal.path or journal.url is required when the journal is enabled")
	}
	return nil
}
