package api

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// CORSConfig controls the Access-Control-Allow-Origin response header.
type CORSConfig struct {
	Enabled bool `yaml:"enabled"`
	// AllowOrigin defaults to "*".
	AllowOrigin string `yaml:"allow_origin"`
}

// Config configures the query API.
type Config struct {
	// Enabled starts the API listener.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Defaults to "0.0.0.0:8080".
	Addr string `yaml:"addr"`

	// BasePath prefixes every route. Defaults to "/stats".
	BasePath string `yaml:"base_path"`

	// MaxResponsePlayers caps listings. 0 means unlimited; negative values
	// are raised to 0.
	MaxResponsePlayers int `yaml:"max_response_players"`

	// MaxTopResults caps rankings. Defaults to 20; values below 1 are
	// raised to 1.
	MaxTopResults int `yaml:"max_top_results"`

	// Workers is the number of requests served concurrently. Further
	// requests wait for a free slot. Defaults to 4.
	Workers int `yaml:"workers"`

	// Compression enables gzip/zstd/deflate responses negotiated through
	// Accept-Encoding.
	Compression bool `yaml:"compression"`

	// ShutdownTimeout bounds the graceful shutdown. Defaults to 5s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	CORS CORSConfig `yaml:"cors"`
}

// DefaultConfig returns the API defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Addr:            "0.0.0.0:8080",
		BasePath:        "/stats",
		MaxTopResults:   20,
		Workers:         4,
		Compression:     true,
		ShutdownTimeout: 5 * time.Second,
		CORS:            CORSConfig{AllowOrigin: "*"},
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Addr == "" {
		c.Addr = d.Addr
	}

	if c.BasePath == "" {
		c.BasePath = d.BasePath
	}

	c.BasePath = strings.TrimRight(c.BasePath, "/")

	if c.MaxResponsePlayers < 0 {
		c.MaxResponsePlayers = 0
	}

	if c.MaxTopResults < 1 {
		c.MaxTopResults = 1
	}

	if c.Workers <= 0 {
		c.Workers = d.Workers
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}

	if c.CORS.AllowOrigin == "" {
		c.CORS.AllowOrigin = d.CORS.AllowOrigin
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	host, portStr, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return fmt.Errorf("api.addr %q: %w", c.Addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("api.addr %q: invalid port", c.Addr)
	}

	if host != "" && net.ParseIP(host) == nil && strings.ContainsAny(host, " /") {
		return fmt.Errorf("api.addr %q: invalid host", c.Addr)
	}

	if c.BasePath != "" && !strings.HasPrefix(c.BasePath, "/") {
		return errors.New("api.base_path must start with /")
	}

	if c.Workers < 1 {
		return errors.New("api.workers must be at least 1")
	}

	return nil
}
