package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/plpmc/statmirror/internal/api"
	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/export"
	"github.com/plpmc/statmirror/internal/history"
	"github.com/plpmc/statmirror/internal/host"
	"github.com/plpmc/statmirror/internal/refresher"
	"github.com/plpmc/statmirror/internal/store"
)

// Agent is the top-level orchestrator for statmirror.
type Agent interface {
	// Start initializes all components and begins mirroring.
	Start(ctx context.Context) error
	// Stop shuts down all components gracefully.
	Stop() error
}

type agent struct {
	log    logrus.FieldLogger
	cfg    *Config
	health *export.HealthMetrics

	cache     *cache.Cache
	store     *store.FileStore
	roster    *host.Roster
	bridge    *host.Bridge
	refresher *refresher.Refresher
	history   *history.Exporter
	api       *api.Server

	cancel context.CancelFunc
}

// New creates a new Agent. The stats directory is resolved here; when none
// is found the agent runs against an empty store and every lookup misses.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	health := export.NewHealthMetrics(log, cfg.Health)

	a := &agent{
		log:    log.WithField("component", "agent"),
		cfg:    cfg,
		health: health,
		cache:  cache.New(),
	}

	dir, err := store.Locate(log, cfg.Stats)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("locating stats directory: %w", err)
		}

		a.log.WithError(err).Warn("No stats directory found, serving empty statistics")
	}

	a.store = store.NewFileStore(log, dir)

	var userCache *host.UserCache
	if cfg.Stats.UserCache != "" {
		userCache = host.NewUserCache(store.ResolvePath(cfg.Stats, cfg.Stats.UserCache))
	}

	a.roster = host.NewRoster(log, cfg.Host, health, userCache, a.store)
	a.refresher = refresher.New(log, cfg.Refresh, a.cache, a.store, a.roster, health)

	if cfg.Bridge.Enabled {
		a.bridge, err = host.NewBridge(log, cfg.Bridge, a.roster, health)
		if err != nil {
			return nil, fmt.Errorf("creating host bridge: %w", err)
		}
	}

	if cfg.History.Enabled {
		a.history, err = history.New(log, cfg.History, a.cache, health)
		if err != nil {
			return nil, fmt.Errorf("creating history exporter: %w", err)
		}
	}

	if cfg.API.Enabled {
		cfg.API.ApplyDefaults()

		if err := cfg.API.Validate(); err != nil {
			a.log.WithError(err).Error("Invalid API configuration, API disabled")
		} else {
			a.api = api.New(log, cfg.API, a.cache, health)
		}
	}

	return a, nil
}

func (a *agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// 1. Start health metrics server.
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Start the history sinks before the first cycle can fire. An
	// unreachable sink disables history only.
	if a.history != nil {
		if err := a.history.Start(ctx); err != nil {
			a.log.WithError(err).Error("History exporter failed to start")
			a.history = nil
		} else {
			a.refresher.OnCycle(a.history.OnCycle)
		}
	}

	// 3. Preload and begin refreshing. Queries are answered during the
	// preload from whatever has been loaded so far.
	if err := a.refresher.Start(ctx); err != nil {
		return fmt.Errorf("starting refresher: %w", err)
	}

	// 4. The API and the bridge are optional; failing to listen leaves
	// the mirror running.
	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			a.log.WithError(err).Error("Stats API failed to start")
			a.api = nil
		}
	}

	if a.bridge != nil {
		if err := a.bridge.Start(ctx); err != nil {
			a.log.WithError(err).Error("Host bridge failed to start")
			a.bridge = nil
		}
	}

	a.log.WithFields(logrus.Fields{
		"stats_dir":        a.store.Dir(),
		"refresh_interval": a.cfg.Refresh.Interval.String(),
		"api":              a.api != nil,
		"bridge":           a.bridge != nil,
		"history":          a.history != nil,
	}).Info("Agent fully started")

	go a.logPreload(ctx)

	return nil
}

func (a *agent) logPreload(ctx context.Context) {
	start := time.Now()

	select {
	case <-ctx.Done():
	case <-a.refresher.PreloadDone():
		a.log.WithFields(logrus.Fields{
			"cached": a.cache.Len(),
			"took":   time.Since(start).String(),
		}).Info("Serving preloaded statistics")
	}
}

func (a *agent) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}

	var result *multierror.Error

	// Inputs stop before the components they feed.
	if a.bridge != nil {
		if err := a.bridge.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping host bridge: %w", err))
		}
	}

	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping stats API: %w", err))
		}
	}

	a.refresher.Stop()

	if a.history != nil {
		if err := a.history.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stopping history exporter: %w", err))
		}
	}

	if err := a.health.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stopping health metrics: %w", err))
	}

	return result.ErrorOrNil()
}
