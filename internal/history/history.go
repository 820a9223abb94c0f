// Package history exports point-in-time counters of online players after
// every periodic refresh, to ClickHouse and/or an HTTP NDJSON endpoint.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	processor "github.com/ethpandaops/go-batch-processor"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/export"
	httpexport "github.com/plpmc/statmirror/internal/export/http"
	"github.com/plpmc/statmirror/internal/migrate"
	"github.com/plpmc/statmirror/internal/refresher"
	"github.com/plpmc/statmirror/internal/stats"
)

const (
	sinkClickHouse = "clickhouse"
	sinkHTTP       = "http"
)

// Config configures snapshot export.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// ServerName tags every row. Defaults to the host name.
	ServerName string `yaml:"server_name"`

	// AutoMigrate applies the ClickHouse schema at startup.
	AutoMigrate bool `yaml:"auto_migrate"`

	// QueueSize bounds the number of pending cycles. Defaults to 4.
	QueueSize int `yaml:"queue_size"`

	ClickHouse export.ClickHouseConfig `yaml:"clickhouse"`
	HTTP       httpexport.Config       `yaml:"http"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if !c.ClickHouse.Enabled && !c.HTTP.Enabled {
		return errors.New("history requires clickhouse or http to be enabled")
	}

	if err := c.ClickHouse.Validate(); err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}

	return nil
}

// Snapshot is one exported row.
type Snapshot struct {
	SnapshotTime time.Time `json:"snapshot_time"`
	ServerName   string    `json:"server_name"`
	PlayerID     uuid.UUID `json:"player_id"`
	PlayerName   string    `json:"player_name"`
	PlayTime     int64     `json:"play_time"`
	Jumps        int64     `json:"jumps"`
	Deaths       int64     `json:"deaths"`
	BlocksMined  int64     `json:"blocks_mined"`
	ItemsCrafted int64     `json:"items_crafted"`
}

// BuildRows derives one row per player of the cycle that has a cached
// document.
func BuildRows(report refresher.CycleReport, c *cache.Cache, serverName string) []Snapshot {
	rows := make([]Snapshot, 0, len(report.Players))
	at := report.Started.UTC()

	for _, p := range report.Players {
		doc, ok := c.Lookup(p.ID)
		if !ok {
			continue
		}

		rows = append(rows, Snapshot{
			SnapshotTime: at,
			ServerName:   serverName,
			PlayerID:     p.ID,
			PlayerName:   c.Name(p.ID),
			PlayTime:     doc.Counter(stats.CategoryCustom, stats.KeyPlayTime),
			Jumps:        doc.Counter(stats.CategoryCustom, stats.KeyJump),
			Deaths:       doc.Counter(stats.CategoryCustom, stats.KeyDeaths),
			BlocksMined:  doc.CategoryTotal(stats.CategoryMined),
			ItemsCrafted: doc.CategoryTotal(stats.CategoryCrafted),
		})
	}

	return rows
}

// Exporter receives refresh cycles and writes their rows out.
type Exporter struct {
	log    logrus.FieldLogger
	cfg    Config
	cache  *cache.Cache
	health *export.HealthMetrics

	writer *export.ClickHouseWriter
	proc   *processor.BatchItemProcessor[Snapshot]

	cycles chan []Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an exporter. Start must be called before cycles are
// accepted.
func New(
	log logrus.FieldLogger,
	cfg Config,
	c *cache.Cache,
	health *export.HealthMetrics,
) (*Exporter, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4
	}

	e := &Exporter{
		log:    log.WithField("component", "history"),
		cfg:    cfg,
		cache:  c,
		health: health,
		cycles: make(chan []Snapshot, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	if cfg.ClickHouse.Enabled {
		e.writer = export.NewClickHouseWriter(log, cfg.ClickHouse)
	}

	if cfg.HTTP.Enabled {
		proc, err := httpexport.NewProcessor[Snapshot](log, cfg.HTTP, "history_http")
		if err != nil {
			return nil, fmt.Errorf("creating HTTP processor: %w", err)
		}

		e.proc = proc
	}

	return e, nil
}

// Start connects the sinks and starts the export loop.
func (e *Exporter) Start(ctx context.Context) error {
	if e.writer != nil {
		if e.cfg.AutoMigrate {
			dsn := migrate.DSN(e.writer.Config())
			if err := migrate.New(e.log, dsn).Up(ctx); err != nil {
				return fmt.Errorf("migrating history schema: %w", err)
			}
		}

		if err := e.writer.Start(ctx); err != nil {
			return err
		}
	}

	ctx, e.cancel = context.WithCancel(ctx)

	if e.proc != nil {
		e.proc.Start(ctx)
	}

	go e.run(ctx)

	e.log.WithFields(logrus.Fields{
		"server":     e.cfg.ServerName,
		"clickhouse": e.writer != nil,
		"http":       e.proc != nil,
	}).Info("History export started")

	return nil
}

// OnCycle queues the rows of a refresh cycle. A full queue drops the cycle.
func (e *Exporter) OnCycle(_ context.Context, report refresher.CycleReport) {
	rows := BuildRows(report, e.cache, e.cfg.ServerName)
	if len(rows) == 0 {
		return
	}

	select {
	case e.cycles <- rows:
	default:
		e.log.WithField("rows", len(rows)).Warn("History queue full, dropping snapshot")
		e.recordError("all", "queue_full")
	}
}

func (e *Exporter) run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case rows := <-e.cycles:
			e.export(ctx, rows)
		}
	}
}

func (e *Exporter) export(ctx context.Context, rows []Snapshot) {
	if e.proc != nil {
		items := make([]*Snapshot, len(rows))
		for i := range rows {
			items[i] = &rows[i]
		}

		if err := e.proc.Write(ctx, items); err != nil {
			e.log.WithError(err).Warn("HTTP history export failed (queue may be full)")
			e.recordError(sinkHTTP, "write")
		} else if e.health != nil {
			e.health.HistoryRowsExported.WithLabelValues(sinkHTTP).Add(float64(len(rows)))
		}
	}

	if e.writer != nil {
		if err := e.flushClickHouse(ctx, rows); err != nil {
			e.log.WithError(err).Error("ClickHouse history export failed")
		}
	}
}

func (e *Exporter) flushClickHouse(ctx context.Context, rows []Snapshot) error {
	start := time.Now()
	cfg := e.writer.Config()

	ctx, cancel := context.WithTimeout(ctx, cfg.InsertTimeout)
	defer cancel()

	batch, err := e.writer.Conn().PrepareBatch(
		ctx,
		fmt.Sprintf(
			"INSERT INTO %s (snapshot_time, server_name, player_id, player_name, play_time, jumps, deaths, blocks_mined, items_crafted)",
			cfg.QualifiedTable(),
		),
	)
	if err != nil {
		e.recordError(sinkClickHouse, "prepare")

		return fmt.Errorf("preparing batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(
			row.SnapshotTime,
			row.ServerName,
			row.PlayerID,
			row.PlayerName,
			row.PlayTime,
			row.Jumps,
			row.Deaths,
			row.BlocksMined,
			row.ItemsCrafted,
		); err != nil {
			_ = batch.Abort()

			e.recordError(sinkClickHouse, "append")

			return fmt.Errorf("appending row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		e.recordError(sinkClickHouse, "send")

		return fmt.Errorf("sending batch of %d rows: %w", len(rows), err)
	}

	if e.health != nil {
		e.health.HistoryRowsExported.WithLabelValues(sinkClickHouse).Add(float64(len(rows)))
		e.health.HistoryFlushDuration.WithLabelValues(sinkClickHouse).
			Observe(time.Since(start).Seconds())
	}

	e.log.WithField("rows", len(rows)).Debug("Flushed player snapshots")

	return nil
}

func (e *Exporter) recordError(sink, errorType string) {
	if e.health != nil {
		e.health.HistoryExportErrors.WithLabelValues(sink, errorType).Inc()
	}
}

// Stop drains queued cycles and closes the sinks.
func (e *Exporter) Stop() error {
	var result *multierror.Error

	if e.cancel != nil {
		e.cancel()
		<-e.done

		// Export cycles queued before shutdown.
		for drained := false; !drained; {
			select {
			case rows := <-e.cycles:
				e.export(context.Background(), rows)
			default:
				drained = true
			}
		}
	}

	if e.proc != nil {
		if err := e.proc.Shutdown(context.Background()); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutting down HTTP processor: %w", err))
		}
	}

	if e.writer != nil {
		if err := e.writer.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing ClickHouse: %w", err))
		}
	}

	return result.ErrorOrNil()
}
