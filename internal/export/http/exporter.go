// Package http ships rows as NDJSON request bodies, batched by
// go-batch-processor and retried with go-retryablehttp.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/plpmc/statmirror/internal/compress"
	"github.com/plpmc/statmirror/internal/version"
)

// Exporter POSTs batches of T, one JSON document per line.
type Exporter[T any] struct {
	log        logrus.FieldLogger
	cfg        Config
	client     *http.Client
	compressor *compress.Compressor
}

var _ processor.ItemExporter[any] = (*Exporter[any])(nil)

// NewExporter validates cfg (after applying defaults) and builds the
// retrying client.
func NewExporter[T any](log logrus.FieldLogger, cfg Config) (*Exporter[T], error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("http exporter config: %w", err)
	}

	compressor, err := compress.NewCompressor(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return &Exporter[T]{
		log:        log.WithField("component", "http_exporter"),
		cfg:        cfg,
		client:     newClient(cfg),
		compressor: compressor,
	}, nil
}

func newClient(cfg Config) *http.Client {
	idle := cfg.Batch.Workers * 2

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.HTTPClient = &http.Client{Transport: &http.Transport{
		MaxIdleConns:        idle,
		MaxIdleConnsPerHost: idle,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.keepAlive(),
	}}
	rc.RetryMax = cfg.Retry.Max
	rc.RetryWaitMin = cfg.Retry.WaitMin
	rc.RetryWaitMax = cfg.Retry.WaitMax
	// Return the final response instead of a generic "giving up" error so
	// the status code reaches the caller.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := rc.StandardClient()
	client.Timeout = cfg.ExportTimeout

	return client
}

// ExportItems sends one batch. Nil items are skipped.
func (e *Exporter[T]) ExportItems(ctx context.Context, items []*T) error {
	body, rows, err := e.encode(items)
	if err != nil || rows == 0 {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("User-Agent", version.UserAgent())

	if enc := e.compressor.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting %d rows: %w", rows, err)
	}

	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	e.log.WithFields(logrus.Fields{
		"rows":  rows,
		"bytes": len(body),
	}).Debug("Posted batch")

	return nil
}

// encode returns the compressed NDJSON body and the number of rows in it.
func (e *Exporter[T]) encode(items []*T) ([]byte, int, error) {
	var (
		buf  bytes.Buffer
		rows int
	)

	enc := json.NewEncoder(&buf)

	for _, item := range items {
		if item == nil {
			continue
		}

		if err := enc.Encode(item); err != nil {
			return nil, 0, fmt.Errorf("encoding row: %w", err)
		}

		rows++
	}

	if rows == 0 {
		return nil, 0, nil
	}

	body, err := e.compressor.Compress(buf.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("compressing batch: %w", err)
	}

	return body, rows, nil
}

// Shutdown releases the compressor.
func (e *Exporter[T]) Shutdown(_ context.Context) error {
	return e.compressor.Close()
}

// NewProcessor wires an Exporter into a batch processor sized by
// cfg.Batch. The caller starts and shuts down the processor.
func NewProcessor[T any](
	log logrus.FieldLogger,
	cfg Config,
	name string,
) (*processor.BatchItemProcessor[T], error) {
	cfg.ApplyDefaults()

	exporter, err := NewExporter[T](log, cfg)
	if err != nil {
		return nil, err
	}

	proc, err := processor.NewBatchItemProcessor[T](
		exporter,
		name,
		log,
		processor.WithMaxQueueSize(cfg.Batch.MaxQueue),
		processor.WithBatchTimeout(cfg.Batch.Timeout),
		processor.WithExportTimeout(cfg.ExportTimeout),
		processor.WithMaxExportBatchSize(cfg.Batch.Size),
		processor.WithWorkers(cfg.Batch.Workers),
	)
	if err != nil {
		return nil, fmt.Errorf("creating batch processor %s: %w", name, err)
	}

	return proc, nil
}
