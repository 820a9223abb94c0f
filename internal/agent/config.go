package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plpmc/statmirror/internal/api"
	"github.com/plpmc/statmirror/internal/export"
	httpexport "github.com/plpmc/statmirror/internal/export/http"
	"github.com/plpmc/statmirror/internal/history"
	"github.com/plpmc/statmirror/internal/host"
	"github.com/plpmc/statmirror/internal/refresher"
	"github.com/plpmc/statmirror/internal/store"
)

// Config is the top-level configuration for statmirror.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Stats locates the stats documents.
	Stats store.Config `yaml:"stats"`

	// Refresh configures the preload and the periodic refresh.
	Refresh refresher.Config `yaml:"refresh"`

	// Host configures the player roster.
	Host host.Config `yaml:"host"`

	// API configures the query API.
	API api.Config `yaml:"api"`

	// Bridge configures the websocket the game server reports
	// joins and leaves to.
	Bridge host.BridgeConfig `yaml:"bridge"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// History configures snapshot export after each periodic refresh.
	History history.Config `yaml:"history"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Stats: store.Config{
			WorldContainer: ".",
			World:          store.DefaultWorld,
			UserCache:      "usercache.json",
		},
		Refresh: refresher.Config{
			Interval:    60 * time.Second,
			Concurrency: 8,
		},
		Host: host.Config{
			EventQueueSize: 1024,
		},
		API: api.DefaultConfig(),
		Bridge: host.BridgeConfig{
			Addr: ":8081",
			Path: "/host/events",
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
		History: history.Config{
			QueueSize: 4,
			HTTP:      httpexport.DefaultConfig(),
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills fields the file left empty.
func (c *Config) ApplyDefaults() {
	if c.Stats.World == "" {
		c.Stats.World = store.DefaultWorld
	}

	if c.Refresh.Concurrency <= 0 {
		c.Refresh.Concurrency = 8
	}

	c.Bridge.ApplyDefaults()

	if c.History.ServerName == "" {
		if name, err := os.Hostname(); err == nil {
			c.History.ServerName = name
		}
	}

	if c.History.ClickHouse.Enabled {
		c.History.ClickHouse.ApplyDefaults()
	}

	if c.History.HTTP.Enabled {
		c.History.HTTP.ApplyDefaults()
	}
}

// Validate checks the configuration for consistency. The API section is
// checked when the agent starts; an invalid API section only disables the
// API.
func (c *Config) Validate() error {
	if c.Refresh.Concurrency < 1 {
		return fmt.Errorf("refresh.concurrency must be positive")
	}

	if err := c.Bridge.Validate(); err != nil {
		return err
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history: %w", err)
	}

	return nil
}
