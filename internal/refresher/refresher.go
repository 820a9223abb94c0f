// Package refresher keeps the stats cache in step with the stats documents
// on disk: a bulk preload at startup, a refresh per join/leave event and a
// periodic refresh of every online player.
package refresher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/export"
	"github.com/plpmc/statmirror/internal/host"
	"github.com/plpmc/statmirror/internal/store"
)

// Triggers, used as log fields and metric labels.
const (
	TriggerPreload  = "preload"
	TriggerJoin     = "join"
	TriggerLeave    = "leave"
	TriggerPeriodic = "periodic"
)

// Config configures the refresher.
type Config struct {
	// Interval between refreshes of the online players. A value <= 0
	// disables the periodic refresh. Defaults to 60s.
	Interval time.Duration `yaml:"interval"`

	// Concurrency bounds parallel document fetches during bulk
	// refreshes. Defaults to 8.
	Concurrency int `yaml:"concurrency"`
}

// CycleReport summarizes one periodic refresh.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Players  []host.Player
	Outcomes map[store.Outcome]int
}

// CycleFunc is called after each periodic refresh.
type CycleFunc func(ctx context.Context, report CycleReport)

// Refresher is the only writer of the cache.
type Refresher struct {
	log    logrus.FieldLogger
	cfg    Config
	cache  *cache.Cache
	store  store.Store
	host   host.Host
	health *export.HealthMetrics

	mu       sync.Mutex
	onCycle  []CycleFunc
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	preload  chan struct{}
	stopOnce sync.Once
}

// New creates a refresher.
func New(
	log logrus.FieldLogger,
	cfg Config,
	c *cache.Cache,
	s store.Store,
	h host.Host,
	health *export.HealthMetrics,
) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	return &Refresher{
		log:     log.WithField("component", "refresher"),
		cfg:     cfg,
		cache:   c,
		store:   s,
		host:    h,
		health:  health,
		preload: make(chan struct{}),
	}
}

// OnCycle registers a callback invoked after every periodic refresh.
func (r *Refresher) OnCycle(fn CycleFunc) {
	r.mu.Lock()
	r.onCycle = append(r.onCycle, fn)
	r.mu.Unlock()
}

// Start launches the preload, the event loop and the periodic loop. It
// returns immediately.
func (r *Refresher) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(r.preload)

		r.Preload(ctx)
	}()

	r.wg.Add(1)

	go r.eventLoop(ctx)

	if r.cfg.Interval > 0 {
		r.wg.Add(1)

		go r.periodicLoop(ctx)
	} else {
		r.log.Warn("Refresh interval <= 0, periodic refresh of online players disabled")
	}

	return nil
}

// PreloadDone is closed once the startup preload has finished.
func (r *Refresher) PreloadDone() <-chan struct{} {
	return r.preload
}

// Stop cancels background work and waits for it. Fetches abandoned by the
// cancellation do not touch the cache.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}

		r.wg.Wait()
	})
}

// Preload fetches the document of every known player and returns the
// number of documents loaded.
func (r *Refresher) Preload(ctx context.Context) int {
	start := time.Now()

	r.log.Info("Loading stats of all known players")

	players, err := r.host.KnownPlayers(ctx)
	if err != nil {
		r.log.WithError(err).Error("Listing known players failed, preload skipped")

		return 0
	}

	// Every known player resolves by name, with or without a document.
	for _, p := range players {
		r.cache.RecordName(p.ID, p.Name)
	}

	outcomes := r.refreshAll(ctx, TriggerPreload, players)
	loaded := outcomes[store.OutcomeFound]
	elapsed := time.Since(start)

	if r.health != nil {
		r.health.PreloadLoaded.Set(float64(loaded))
		r.health.PreloadDuration.Set(elapsed.Seconds())
	}

	r.updateGauges()

	r.log.WithFields(logrus.Fields{
		"loaded":     loaded,
		"known":      len(players),
		"missing":    outcomes[store.OutcomeNotFound],
		"corrupt":    outcomes[store.OutcomeCorrupt],
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("Preload finished")

	return loaded
}

// handleEvent applies a join or leave notification. Presence and name are
// updated synchronously; the document refresh runs in the background and is
// tracked by the wait group, so it must only be called from eventLoop.
func (r *Refresher) handleEvent(ctx context.Context, ev host.Event) {
	trigger := TriggerJoin

	switch ev.Type {
	case host.EventJoin:
		r.cache.MarkOnline(ev.Player.ID)
	case host.EventLeave:
		r.cache.MarkOffline(ev.Player.ID)

		trigger = TriggerLeave
	default:
		return
	}

	r.cache.RecordName(ev.Player.ID, ev.Player.Name)

	r.log.WithFields(logrus.Fields{
		"event":  ev.Type.String(),
		"player": ev.Player.ID.String(),
		"name":   ev.Player.Name,
	}).Debug("Player presence changed")

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		r.Refresh(ctx, trigger, ev.Player)
		r.updateGauges()
	}()
}

// RefreshOnline rebuilds the online set from the host and refreshes the
// document of every online player.
func (r *Refresher) RefreshOnline(ctx context.Context) CycleReport {
	start := time.Now()
	players := r.host.OnlinePlayers()

	ids := make([]uuid.UUID, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}

	r.cache.ResyncOnline(ids)

	for _, p := range players {
		r.cache.RecordName(p.ID, p.Name)
	}

	outcomes := r.refreshAll(ctx, TriggerPeriodic, players)
	r.updateGauges()

	report := CycleReport{
		Started:  start,
		Duration: time.Since(start),
		Players:  players,
		Outcomes: outcomes,
	}

	if r.health != nil {
		r.health.CycleDuration.Observe(report.Duration.Seconds())
	}

	r.log.WithFields(logrus.Fields{
		"online":      len(players),
		"duration_ms": report.Duration.Milliseconds(),
	}).Debug("Refreshed online players")

	return report
}

// Refresh fetches one document and replaces the cache entry. A missing or
// corrupt document removes the entry. An abandoned fetch changes nothing.
func (r *Refresher) Refresh(
	ctx context.Context,
	trigger string,
	p host.Player,
) store.Outcome {
	start := time.Now()
	res := r.store.Fetch(ctx, p.ID)

	if ctx.Err() != nil {
		return res.Outcome
	}

	log := r.log.WithFields(logrus.Fields{
		"player":  p.ID.String(),
		"trigger": trigger,
	})

	switch res.Outcome {
	case store.OutcomeFound:
		r.cache.Put(p.ID, res.Document, p.Name)
	case store.OutcomeCorrupt:
		log.WithError(res.Err).Warn("Unreadable stats document, dropping cache entry")
		r.cache.Remove(p.ID)
	default:
		if r.cache.Remove(p.ID) {
			log.Debug("Stats document disappeared, dropped cache entry")
		}
	}

	if r.health != nil {
		r.health.RefreshTotal.WithLabelValues(trigger, res.Outcome.String()).Inc()
		r.health.RefreshDuration.WithLabelValues(trigger).
			Observe(time.Since(start).Seconds())
	}

	return res.Outcome
}

// refreshAll refreshes every player with bounded parallelism. A failure
// never stops the remaining refreshes.
func (r *Refresher) refreshAll(
	ctx context.Context,
	trigger string,
	players []host.Player,
) map[store.Outcome]int {
	var (
		mu       sync.Mutex
		outcomes = make(map[store.Outcome]int, 3)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, p := range players {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			outcome := r.Refresh(gctx, trigger, p)

			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

func (r *Refresher) eventLoop(ctx context.Context) {
	defer r.wg.Done()

	events := r.host.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.handleEvent(ctx, ev)
		}
	}
}

func (r *Refresher) periodicLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := r.RefreshOnline(ctx)
			if ctx.Err() != nil {
				return
			}

			r.mu.Lock()
			callbacks := append([]CycleFunc(nil), r.onCycle...)
			r.mu.Unlock()

			for _, fn := range callbacks {
				fn(ctx, report)
			}
		}
	}
}

func (r *Refresher) updateGauges() {
	if r.health == nil {
		return
	}

	r.health.CacheEntries.Set(float64(r.cache.Len()))
	r.health.OnlinePlayers.Set(float64(r.cache.OnlineCount()))
	r.health.NamesIndexed.Set(float64(r.cache.NameCount()))
}
