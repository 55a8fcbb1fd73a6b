// Package config provides configuration management for rcwatch services.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rcwatch/rcwatch/internal/types"
)

// DatabaseURLEnv names the environment variable carrying the history
// database URL. Database URLs embed credentials and are never read from
// config files.
const DatabaseURLEnv = "RCW_DB_URL"

// Config holds configuration for the rcwatch service.
type Config struct {
	Feed    FeedConfig
	Watcher WatcherConfig
	Notify  NotifyConfig
	GRPC    GRPCConfig

	// WatchesFile is an optional YAML file of preset watches.
	WatchesFile string
	// TrustedSources maps each trusted source to the senders allowed to speak
	// for it. An empty sender list trusts every sender of that source.
	TrustedSources map[string][]string
}

// FeedConfig configures the line transport listener.
type FeedConfig struct {
	Host          string
	Port          int
	MaxLineLength int
}

// WatcherConfig configures event reassembly.
type WatcherConfig struct {
	MaxBufferBytes  int
	UnescapeUnicode bool
}

// NotifyConfig configures per-destination flood control.
type NotifyConfig struct {
	Rate      float64 // messages per second
	Burst     int
	QueueSize int // pending messages per destination before dropping
}

// GRPCConfig configures the health endpoint.
type GRPCConfig struct {
	Host string
	Port int
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			Host:          "127.0.0.1",
			Port:          6667,
			MaxLineLength: types.DefaultMaxLineLength,
		},
		Watcher: WatcherConfig{
			MaxBufferBytes:  types.DefaultMaxBufferBytes,
			UnescapeUnicode: true,
		},
		Notify: NotifyConfig{
			Rate:      1.0,
			Burst:     3,
			QueueSize: 64,
		},
		GRPC: GRPCConfig{
			Host: "0.0.0.0",
			Port: 50051,
		},
		TrustedSources: map[string][]string{},
	}
}

// FeedAddr returns the host:port the feed listener binds.
func (c *Config) FeedAddr() string {
	return fmt.Sprintf("%s:%d", c.Feed.Host, c.Feed.Port)
}

// GRPCAddr returns the host:port the health endpoint binds.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.GRPC.Host, c.GRPC.Port)
}

// Trusts reports whether sender may feed events for source.
func (c *Config) Trusts(source, sender string) bool {
	senders, ok := c.TrustedSources[source]
	if !ok {
		return false
	}
	if len(senders) == 0 {
		return true
	}
	for _, s := range senders {
		if s == sender {
			return true
		}
	}
	return false
}

// DatabaseURL resolves the history database URL: the flag value when set,
// otherwise RCW_DB_URL. Returns "" when neither is set.
func DatabaseURL(flagValue string) string {
	if flagValue != "" {
		return strings.TrimSpace(flagValue)
	}
	return strings.TrimSpace(os.Getenv(DatabaseURLEnv))
}

// RedactURL hides the password of a database URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}
