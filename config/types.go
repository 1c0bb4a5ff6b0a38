package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/grovetools/statesync/pkg/paths"
)

//go:generate sh -c "cd .. && go run ./cmd/statesync schema > statesync.schema.json"

// ServerConfig holds settings for the statesync daemon listener.
type ServerConfig struct {
	Socket          string `yaml:"socket,omitempty" toml:"socket,omitempty" jsonschema:"description=Unix socket the daemon listens on (default: runtime dir)"`
	Listen          string `yaml:"listen,omitempty" toml:"listen,omitempty" jsonschema:"description=Optional TCP address (host:port) served in addition to the socket"`
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty" toml:"shutdown_timeout,omitempty" jsonschema:"description=Graceful shutdown window (default: 5s)"`
	Metrics         *bool  `yaml:"metrics,omitempty" toml:"metrics,omitempty" jsonschema:"description=Expose Prometheus metrics on /metrics (default: true)"`
	ConfigWatch     *bool  `yaml:"config_watch,omitempty" toml:"config_watch,omitempty" jsonschema:"description=Reload configuration when the file changes (default: true)"`
	ConfigDebounce  int    `yaml:"config_debounce_ms,omitempty" toml:"config_debounce_ms,omitempty" jsonschema:"minimum=0,description=Debounce window for rapid config changes in milliseconds (default: 100)"`
}

// PushConfig controls framing of messages on the push channel.
type PushConfig struct {
	FragmentSize int    `yaml:"fragment_size,omitempty" toml:"fragment_size,omitempty" jsonschema:"minimum=16,maximum=4095,description=Maximum characters per websocket fragment (default: 4095)"`
	WriteTimeout string `yaml:"write_timeout,omitempty" toml:"write_timeout,omitempty" jsonschema:"description=Deadline for writing one fragment (default: 10s)"`
	ReadLimit    int64  `yaml:"read_limit,omitempty" toml:"read_limit,omitempty" jsonschema:"minimum=0,description=Maximum size in bytes of a reassembled client message (default: 1048576)"`
}

// FlushConfig controls how often session trees are flushed to clients.
type FlushConfig struct {
	Interval string `yaml:"interval,omitempty" toml:"interval,omitempty" jsonschema:"description=Flush period for dirty session trees (default: 50ms)"`
}

// SignalsConfig selects the signal tree flavor and its journal.
type SignalsConfig struct {
	Mode    string `yaml:"mode,omitempty" toml:"mode,omitempty" jsonschema:"enum=sync,enum=async,description=Signal tree confirmation mode (default: sync)"`
	Journal string `yaml:"journal,omitempty" toml:"journal,omitempty" jsonschema:"description=Path of the bbolt command journal (default: state dir); off disables persistence"`
}

// Config represents the statesync.yml configuration
type Config struct {
	Version string        `yaml:"version,omitempty" toml:"version,omitempty" jsonschema:"description=Configuration version (e.g. 1.0)"`
	Server  ServerConfig  `yaml:"server,omitempty" toml:"server,omitempty" jsonschema:"description=Daemon listener settings"`
	Push    PushConfig    `yaml:"push,omitempty" toml:"push,omitempty" jsonschema:"description=Push channel framing"`
	Flush   FlushConfig   `yaml:"flush,omitempty" toml:"flush,omitempty" jsonschema:"description=Flush scheduling"`
	Signals SignalsConfig `yaml:"signals,omitempty" toml:"signals,omitempty" jsonschema:"description=Signal tree settings"`

	// Extensions captures all other top-level keys (for example "logging").
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

const (
	SignalModeSync  = "sync"
	SignalModeAsync = "async"
)

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "5s"
	}
	if c.Server.Metrics == nil {
		trueVal := true
		c.Server.Metrics = &trueVal
	}
	if c.Server.ConfigWatch == nil {
		trueVal := true
		c.Server.ConfigWatch = &trueVal
	}
	if c.Server.ConfigDebounce == 0 {
		c.Server.ConfigDebounce = 100
	}
	if c.Push.FragmentSize == 0 {
		c.Push.FragmentSize = 4095
	}
	if c.Push.WriteTimeout == "" {
		c.Push.WriteTimeout = "10s"
	}
	if c.Push.ReadLimit == 0 {
		c.Push.ReadLimit = 1 << 20
	}
	if c.Flush.Interval == "" {
		c.Flush.Interval = "50ms"
	}
	if c.Signals.Mode == "" {
		c.Signals.Mode = SignalModeSync
	}
}

// JournalPath returns where signal commands are journaled, or "" when
// persistence is off.
func (c *Config) JournalPath() string {
	switch c.Signals.Journal {
	case "off":
		return ""
	case "":
		return paths.JournalPath()
	}
	return c.Signals.Journal
}

// FlushInterval returns the parsed flush period.
func (c *Config) FlushInterval() time.Duration {
	return parseDurationOr(c.Flush.Interval, 50*time.Millisecond)
}

// ShutdownTimeout returns the parsed shutdown window.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 5*time.Second)
}

// WriteTimeout returns the parsed per-fragment write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return parseDurationOr(c.Push.WriteTimeout, 10*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded statesync.yml into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
