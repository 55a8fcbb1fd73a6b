package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"feed-host":        "feed.host",
	"feed-port":        "feed.port",
	"grpc-host":        "grpc.host",
	"grpc-port":        "grpc.port",
	"watches-file":     "watches_file",
	"max-buffer-bytes": "watcher.max_buffer_bytes",
}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
// flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults matching DefaultConfig
	def := DefaultConfig()
	v.SetDefault("feed.host", def.Feed.Host)
	v.SetDefault("feed.port", def.Feed.Port)
	v.SetDefault("feed.max_line_length", def.Feed.MaxLineLength)
	v.SetDefault("watcher.max_buffer_bytes", def.Watcher.MaxBufferBytes)
	v.SetDefault("watcher.unescape_unicode", def.Watcher.UnescapeUnicode)
	v.SetDefault("notify.rate", def.Notify.Rate)
	v.SetDefault("notify.burst", def.Notify.Burst)
	v.SetDefault("notify.queue_size", def.Notify.QueueSize)
	v.SetDefault("grpc.host", def.GRPC.Host)
	v.SetDefault("grpc.port", def.GRPC.Port)
	v.SetDefault("watches_file", "")

	// Bind environment variables with RCW_ prefix
	v.SetEnvPrefix("RCW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Security check: reject credentials in config files
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Feed: FeedConfig{
			Host:          v.GetString("feed.host"),
			Port:          v.GetInt("feed.port"),
			MaxLineLength: v.GetInt("feed.max_line_length"),
		},
		Watcher: WatcherConfig{
			MaxBufferBytes:  v.GetInt("watcher.max_buffer_bytes"),
			UnescapeUnicode: v.GetBool("watcher.unescape_unicode"),
		},
		Notify: NotifyConfig{
			Rate:      v.GetFloat64("notify.rate"),
			Burst:     v.GetInt("notify.burst"),
			QueueSize: v.GetInt("notify.queue_size"),
		},
		GRPC: GRPCConfig{
			Host: v.GetString("grpc.host"),
			Port: v.GetInt("grpc.port"),
		},
		WatchesFile:    v.GetString("watches_file"),
		TrustedSources: v.GetStringMapStringSlice("trusted_sources"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks port ranges and positive limits.
func validateConfig(cfg *Config) error {
	if cfg.Feed.Port <= 0 || cfg.Feed.Port > 65535 {
		return fmt.Errorf("feed port must be between 1 and 65535, got %d", cfg.Feed.Port)
	}
	if cfg.GRPC.Port < 0 || cfg.GRPC.Port > 65535 {
		return fmt.Errorf("grpc port must be between 0 and 65535, got %d", cfg.GRPC.Port)
	}
	if cfg.Feed.MaxLineLength <= 0 {
		return fmt.Errorf("max_line_length must be positive, got %d", cfg.Feed.MaxLineLength)
	}
	if cfg.Watcher.MaxBufferBytes < 0 {
		return fmt.Errorf("max_buffer_bytes must not be negative, got %d", cfg.Watcher.MaxBufferBytes)
	}
	if cfg.Notify.Rate <= 0 {
		return fmt.Errorf("notify rate must be positive, got %v", cfg.Notify.Rate)
	}
	if cfg.Notify.Burst <= 0 {
		return fmt.Errorf("notify burst must be positive, got %d", cfg.Notify.Burst)
	}
	if cfg.Notify.QueueSize <= 0 {
		return fmt.Errorf("notify queue size must be positive, got %d", cfg.Notify.QueueSize)
	}
	if cfg.TrustedSources == nil {
		cfg.TrustedSources = map[string][]string{}
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only credentials (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("db_url") || v.InConfig("database_url") {
		return fmt.Errorf("database URLs not allowed in config files (use %s environment variable or --db-url)", DatabaseURLEnv)
	}
	return nil
}
