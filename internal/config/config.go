// Package config holds the configuration for the NLWeb suggestion router.
// Configuration is loaded once from ~/.nlweb/config.yaml (with environment
// overrides) and treated as an immutable snapshot afterwards: runtime changes
// go through Patch + a whole-struct swap in the service, never through
// field-by-field mutation visible to concurrent readers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the suggestion router.
type Config struct {
	// Enabled controls whether the suggestion feature is active at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Cache       CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit" yaml:"rate_limit"`
	Canary      CanaryConfig      `mapstructure:"canary" yaml:"canary"`
	Rollback    RollbackConfig    `mapstructure:"rollback" yaml:"rollback"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
}

// CacheConfig controls the suggestion response cache.
type CacheConfig struct {
	// TTL is how long a cached response stays fresh. Zero disables caching.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// MaxEntries bounds the cache size; the oldest entry is evicted beyond it.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
	// AllowStaleOnError serves an expired entry when live computation fails.
	AllowStaleOnError bool `mapstructure:"allow_stale_on_error" yaml:"allow_stale_on_error"`
}

// PerformanceConfig controls scoring limits and performance monitoring.
type PerformanceConfig struct {
	// Enabled toggles performance monitoring (latency samples, percentiles).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// SuggestionTimeout bounds a single scoring pass.
	SuggestionTimeout time.Duration `mapstructure:"suggestion_timeout" yaml:"suggestion_timeout"`
	// MaxSuggestions is the default cap on returned suggestions.
	MaxSuggestions int `mapstructure:"max_suggestions" yaml:"max_suggestions"`
	// MinScore is the default score floor (0-100).
	MinScore float64 `mapstructure:"min_score" yaml:"min_score"`
}

// RateLimitConfig controls per-caller admission.
type RateLimitConfig struct {
	// RequestsPerMinute is the per-caller quota, scaled to the window length.
	RequestsPerMinute int `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	// WindowSeconds is the sliding window length.
	WindowSeconds int `mapstructure:"window_seconds" yaml:"window_seconds"`
}

// CanaryConfig controls percentage-gated staged rollout.
type CanaryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Percentage of callers (by deterministic session bucket) that are served.
	Percentage float64 `mapstructure:"percentage" yaml:"percentage"`
}

// RollbackConfig is the operator-triggered global kill switch.
type RollbackConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Reason  string `mapstructure:"reason" yaml:"reason,omitempty"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is an optional log file path; empty logs to stderr only.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// HistoryConfig controls the optional SQLite suggestion history store.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path is the SQLite database file (default ~/.nlweb/history.db).
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Enabled: true,
		Cache: CacheConfig{
			TTL:               10 * time.Second,
			MaxEntries:        1000,
			AllowStaleOnError: true,
		},
		Performance: PerformanceConfig{
			Enabled:           true,
			SuggestionTimeout: 1500 * time.Millisecond,
			MaxSuggestions:    5,
			MinScore:          0,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
			WindowSeconds:     60,
		},
		Canary: CanaryConfig{
			Enabled:    false,
			Percentage: 100,
		},
		Rollback: RollbackConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		History: HistoryConfig{
			Enabled: false,
		},
	}
}

// Load reads configuration from the default location (~/.nlweb/config.yaml)
// and merges with environment variables.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return LoadFromPath(filepath.Join(homeDir, ".nlweb", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment overrides, e.g. NLWEB_ROLLBACK_ENABLED=true
	v.SetEnvPrefix("NLWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.History.Path = expandPath(cfg.History.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Performance.SuggestionTimeout <= 0 {
		return fmt.Errorf("performance.suggestion_timeout must be positive")
	}
	if c.Performance.MaxSuggestions <= 0 {
		return fmt.Errorf("performance.max_suggestions must be positive")
	}
	if c.Performance.MinScore < 0 || c.Performance.MinScore > 100 {
		return fmt.Errorf("performance.min_score must be between 0 and 100")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive")
	}
	if c.Canary.Percentage < 0 || c.Canary.Percentage > 100 {
		return fmt.Errorf("canary.percentage must be between 0 and 100")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// Clone returns a copy of the configuration. Config carries no reference
// fields beyond strings, so a value copy is a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
