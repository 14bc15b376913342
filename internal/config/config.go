// Package config loads the YAML configuration shared by the bridge and
// device binaries.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file.
type Config struct {
	// NodeID is the mesh sender id. Empty means derive one from a fresh
	// identity key at startup.
	NodeID string       `yaml:"node_id"`
	Log    LogConfig    `yaml:"log"`
	Bridge BridgeConfig `yaml:"bridge"`
	Device DeviceConfig `yaml:"device"`
	// DedupCapacity is the size of the duplicate-suppression window.
	DedupCapacity int `yaml:"dedup_capacity"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// BridgeConfig configures the bridge role.
type BridgeConfig struct {
	// ListenAddr is the QUIC address devices link to.
	ListenAddr string `yaml:"listen_addr"`
	// Relays are the Nostr relay URLs to publish to and subscribe on.
	Relays []string `yaml:"relays"`
	// Advertise publishes the bridge over mDNS.
	Advertise      bool          `yaml:"advertise"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DeviceConfig configures the BLE-only device role.
type DeviceConfig struct {
	// BridgeAddr is the bridge's link address; empty means discover.
	BridgeAddr string `yaml:"bridge_addr"`
	Discover   bool   `yaml:"discover"`
	// EventBuffer is the capacity of the client's event channel.
	EventBuffer int `yaml:"event_buffer"`
}

const (
	DefaultListenAddr     = ":6121"
	DefaultPublishTimeout = 7 * time.Second
	DefaultEventBuffer    = 64
	DefaultDedupCapacity  = 1000
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a configuration from a YAML file. An empty path yields
// Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = DefaultListenAddr
	}
	if c.Bridge.PublishTimeout <= 0 {
		c.Bridge.PublishTimeout = DefaultPublishTimeout
	}
	if c.Device.EventBuffer <= 0 {
		c.Device.EventBuffer = DefaultEventBuffer
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = DefaultDedupCapacity
	}
}

// ValidateBridge checks the settings the bridge role needs.
func (c *Config) ValidateBridge() error {
	if err := c.validateLog(); err != nil {
		return err
	}
	if len(c.Bridge.Relays) == 0 {
		return errors.New("bridge.relays: at least one relay is required")
	}
	for i, u := range c.Bridge.Relays {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("bridge.relays[%d]: %q is not a ws:// or wss:// URL", i, u)
		}
	}
	return nil
}

// ValidateDevice checks the settings the device role needs.
func (c *Config) ValidateDevice() error {
	if err := c.validateLog(); err != nil {
		return err
	}
	if c.Device.BridgeAddr == "" && !c.Device.Discover {
		return errors.New("device: bridge_addr is required unless discover is set")
	}
	return nil
}

func (c *Config) validateLog() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("log.format: unknown format %q (supported: text, json)", c.Log.Format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level: unknown level %q", s)
	}
}

// NewLogger builds the slog logger described by the log section.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
