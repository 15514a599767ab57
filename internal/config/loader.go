// Package config provides centralized configuration management for
// requesterctl. Defaults, an optional YAML file, a .env file and environment
// variables are layered through viper and decoded with mapstructure.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName names the binary and its XDG directories.
	AppName = "requesterctl"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "REQUESTERCTL"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.url", "")
	v.SetDefault("api.key", "")
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("rate_limit.max_per_minute", 500)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.low_remaining_threshold", 10)
	v.SetDefault("rate_limit.low_remaining_pause", "30s")
	v.SetDefault("rate_limit.default_retry_after", "30s")
	v.SetDefault("rate_limit.transport_backoff", "5s")
	v.SetDefault("rate_limit.max_transport_retries", 0)
	v.SetDefault("rate_limit.max_rate_limit_retries", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.driver", "libsql")
	v.SetDefault("journal.path", DefaultJournalPath())
	v.SetDefault("journal.url", "")
	v.SetDefault("journal.auth_token", "")

	v.SetDefault("metrics.file", "")
}

// BindEnv maps REQUESTERCTL_* variables onto config keys. API_URL and API_KEY
// are honoured for compatibility with existing .env files.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("api.url", EnvPrefix+"_API_URL", "API_URL")
	_ = v.BindEnv("api.key", EnvPrefix+"_API_KEY", "API_KEY")
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, err
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("load %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// ReadFile reads the config file into v. An explicit path must exist;
// otherwise the XDG config directory and ./config are searched and a missing
// file is not an error. The path used is returned.
func ReadFile(v *viper.Viper, path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", path, err)
		}
		return v.ConfigFileUsed(), nil
	}

	if dir := DefaultConfigDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Decode unmarshals the settings held by v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.API.URL = strings.TrimRight(strings.TrimSpace(cfg.API.URL), "/")
	cfg.API.Key = strings.TrimSpace(cfg.API.Key)
	if strings.TrimSpace(cfg.Journal.URL) == "" && strings.TrimSpace(cfg.Journal.Path) == "" {
		cfg.Journal.Path = DefaultJournalPath()
	}
	return cfg, nil
}

// Load decodes v and stores the result as the current configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}
	setConfig(cfg)
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if strings.TrimSpace(dir) == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultJournalPath returns the XDG-compliant path to the journal database.
func DefaultJournalPath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + "-journal.db"
	}
	return filepath.Join(dataDir, "journal.db")
}
