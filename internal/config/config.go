// Package config loads streamd configuration from file, environment and
// flags via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full streamd configuration.
type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	DataDir         string `mapstructure:"data_dir"`
	MetadataBackend string `mapstructure:"metadata_backend"`
	MaxFileHandles  int    `mapstructure:"max_file_handles"`

	LongPollTimeout      time.Duration `mapstructure:"long_poll_timeout"`
	SSEReconnectInterval time.Duration `mapstructure:"sse_reconnect_interval"`

	CursorInterval time.Duration `mapstructure:"cursor_interval"`
	CursorEpoch    string        `mapstructure:"cursor_epoch"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	WatchFiles      bool          `mapstructure:"watch_files"`

	LogLevel string `mapstructure:"log_level"`
}

// SetDefaults registers every default on v. Callers bind flags on top.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":4437")
	v.SetDefault("data_dir", "")
	v.SetDefault("metadata_backend", "bbolt")
	v.SetDefault("max_file_handles", 100)
	v.SetDefault("long_poll_timeout", 30*time.Second)
	v.SetDefault("sse_reconnect_interval", 60*time.Second)
	v.SetDefault("cursor_interval", 20*time.Second)
	v.SetDefault("cursor_epoch", "")
	v.SetDefault("cleanup_interval", time.Minute)
	v.SetDefault("watch_files", false)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the optional file path, the environment
// (STREAMD_ prefix) and defaults, in ascending priority of the caller's
// flag bindings.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("STREAMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.MetadataBackend {
	case "bbolt", "lmdb":
	default:
		return fmt.Errorf("invalid metadata_backend %q (want bbolt or lmdb)", c.MetadataBackend)
	}
	if c.MaxFileHandles < 1 {
		return fmt.Errorf("max_file_handles must be positive")
	}
	if c.LongPollTimeout <= 0 {
		return fmt.Errorf("long_poll_timeout must be positive")
	}
	if c.SSEReconnectInterval <= 0 {
		return fmt.Errorf("sse_reconnect_interval must be positive")
	}
	if c.CursorInterval <= 0 {
		return fmt.Errorf("cursor_interval must be positive")
	}
	if c.CursorEpoch != "" {
		if _, err := time.Parse(time.RFC3339, c.CursorEpoch); err != nil {
			return fmt.Errorf("invalid cursor_epoch: %w", err)
		}
	}
	return nil
}

// Epoch returns the configured cursor epoch, or the zero time when unset.
func (c *Config) Epoch() time.Time {
	if c.CursorEpoch == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, c.CursorEpoch)
	if err != nil {
		return time.Time{}
	}
	return t
}
