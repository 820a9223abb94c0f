package http

import (
	"fmt"
	"time"

	"github.com/plpmc/statmirror/internal/compress"
)

// Config configures the NDJSON exporter.
//
//	http:
//	  enabled: true
//	  address: http://collector:8080/snapshots
//	  compression: zstd
//	  batch:
//	    size: 512
//	    timeout: 5s
//	  retry:
//	    max: 3
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`

	// Headers are set on every request, after the defaults.
	Headers map[string]string `yaml:"headers"`

	// Compression is one of none, gzip, zstd, zlib or snappy (block
	// format). Defaults to gzip.
	Compression string `yaml:"compression"`

	// ExportTimeout bounds one request including its retries. Defaults
	// to 30s.
	ExportTimeout time.Duration `yaml:"export_timeout"`

	// KeepAlive reuses connections between batches. Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`

	Batch BatchConfig `yaml:"batch"`
	Retry RetryConfig `yaml:"retry"`
}

// BatchConfig controls how rows are grouped into requests.
type BatchConfig struct {
	// Size is the maximum number of rows per request. Defaults to 512.
	Size int `yaml:"size"`
	// Timeout flushes a partial batch. Defaults to 5s.
	Timeout time.Duration `yaml:"timeout"`
	// MaxQueue is the number of rows held before new rows are refused.
	// Defaults to 8192.
	MaxQueue int `yaml:"max_queue"`
	// Workers sending batches concurrently. Defaults to 1.
	Workers int `yaml:"workers"`
}

// RetryConfig controls retries of failed requests (connection errors, 429
// and 5xx responses).
type RetryConfig struct {
	// Max is the number of retries after the first attempt. 0 disables
	// retries.
	Max     int           `yaml:"max"`
	WaitMin time.Duration `yaml:"wait_min"`
	WaitMax time.Duration `yaml:"wait_max"`
}

// DefaultConfig returns the exporter defaults, disabled.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Compression:   compress.Gzip,
		ExportTimeout: 30 * time.Second,
		KeepAlive:     &keepAlive,
		Batch: BatchConfig{
			Size:     512,
			Timeout:  5 * time.Second,
			MaxQueue: 8192,
			Workers:  1,
		},
		Retry: RetryConfig{
			Max:     3,
			WaitMin: time.Second,
			WaitMax: 30 * time.Second,
		},
	}
}

// ApplyDefaults fills unset fields. Retry.Max is left alone since 0 is
// meaningful.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()

	if c.Compression == "" {
		c.Compression = d.Compression
	}

	if c.ExportTimeout <= 0 {
		c.ExportTimeout = d.ExportTimeout
	}

	if c.KeepAlive == nil {
		c.KeepAlive = d.KeepAlive
	}

	if c.Batch.Size <= 0 {
		c.Batch.Size = d.Batch.Size
	}

	if c.Batch.Timeout <= 0 {
		c.Batch.Timeout = d.Batch.Timeout
	}

	if c.Batch.MaxQueue <= 0 {
		c.Batch.MaxQueue = d.Batch.MaxQueue
	}

	if c.Batch.Workers <= 0 {
		c.Batch.Workers = d.Batch.Workers
	}

	if c.Retry.WaitMin <= 0 {
		c.Retry.WaitMin = d.Retry.WaitMin
	}

	if c.Retry.WaitMax <= 0 {
		c.Retry.WaitMax = d.Retry.WaitMax
	}
}

// Validate checks an enabled configuration; call ApplyDefaults first.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch {
	case c.Address == "":
		return fmt.Errorf("address is required")
	case !compress.Valid(c.Compression):
		return fmt.Errorf("unknown compression %q", c.Compression)
	case c.Batch.Size <= 0 || c.Batch.MaxQueue <= 0 || c.Batch.Workers <= 0:
		return fmt.Errorf("batch size, max_queue and workers must be positive")
	case c.Batch.Size > c.Batch.MaxQueue:
		return fmt.Errorf("batch size %d exceeds max_queue %d", c.Batch.Size, c.Batch.MaxQueue)
	case c.Retry.Max < 0:
		return fmt.Errorf("retry max cannot be negative")
	case c.Retry.WaitMax < c.Retry.WaitMin:
		return fmt.Errorf("retry wait_max %s is below wait_min %s", c.Retry.WaitMax, c.Retry.WaitMin)
	}

	return nil
}

func (c *Config) keepAlive() bool {
	return c.KeepAlive == nil || *c.KeepAlive
}
