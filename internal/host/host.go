// Package host abstracts the game server that statmirror mirrors: which
// players it knows, which are connected, and when players join or leave.
package host

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plpmc/statmirror/internal/export"
)

// EventType distinguishes join from leave notifications.
type EventType int

const (
	// EventJoin is sent when a player connects.
	EventJoin EventType = iota
	// EventLeave is sent when a player disconnects.
	EventLeave
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// Player identifies a player. Name may be empty when unknown.
type Player struct {
	ID   uuid.UUID
	Name string
}

// Event is a join or leave notification.
type Event struct {
	Type   EventType
	Player Player
}

// Host is the source of player identities and presence.
type Host interface {
	// KnownPlayers returns every player the server knows about,
	// including players that never connected during this run.
	KnownPlayers(ctx context.Context) ([]Player, error)
	// OnlinePlayers returns the currently connected players.
	OnlinePlayers() []Player
	// Events delivers join and leave notifications.
	Events() <-chan Event
}

// IDLister enumerates player ids from some other source, e.g. the
// stats directory.
type IDLister interface {
	List(ctx context.Context) ([]uuid.UUID, error)
}

// Config configures the roster.
type Config struct {
	// EventQueueSize bounds the number of undelivered join/leave
	// notifications. Defaults to 1024.
	EventQueueSize int `yaml:"event_queue_size"`
}

// Roster is a Host fed by explicit notifications (Join, Leave, Sync).
type Roster struct {
	log       logrus.FieldLogger
	health    *export.HealthMetrics
	userCache *UserCache
	listers   []IDLister

	mu     sync.RWMutex
	online map[uuid.UUID]Player

	events chan Event
}

var _ Host = (*Roster)(nil)

// NewRoster creates a roster. userCache and listers are optional and feed
// KnownPlayers.
func NewRoster(
	log logrus.FieldLogger,
	cfg Config,
	health *export.HealthMetrics,
	userCache *UserCache,
	listers ...IDLister,
) *Roster {
	size := cfg.EventQueueSize
	if size <= 0 {
		size = 1024
	}

	return &Roster{
		log:       log.WithField("component", "roster"),
		health:    health,
		userCache: userCache,
		listers:   listers,
		online:    make(map[uuid.UUID]Player, 64),
		events:    make(chan Event, size),
	}
}

// Join records p as connected and emits a join event.
func (r *Roster) Join(p Player) {
	r.mu.Lock()
	if prev, ok := r.online[p.ID]; ok && p.Name == "" {
		p.Name = prev.Name
	}

	r.online[p.ID] = p
	r.mu.Unlock()

	r.emit(Event{Type: EventJoin, Player: p})
}

// Leave records p as disconnected and emits a leave event.
func (r *Roster) Leave(p Player) {
	r.mu.Lock()
	if prev, ok := r.online[p.ID]; ok && p.Name == "" {
		p.Name = prev.Name
	}

	delete(r.online, p.ID)
	r.mu.Unlock()

	r.emit(Event{Type: EventLeave, Player: p})
}

// Sync replaces the connected set with players. Players that appear are
// announced as joins, players that disappear as leaves.
func (r *Roster) Sync(players []Player) {
	next := make(map[uuid.UUID]Player, len(players))
	for _, p := range players {
		next[p.ID] = p
	}

	r.mu.Lock()
	prev := r.online
	r.online = next
	r.mu.Unlock()

	for id, p := range next {
		if _, ok := prev[id]; !ok {
			r.emit(Event{Type: EventJoin, Player: p})
		}
	}

	for id, p := range prev {
		if _, ok := next[id]; !ok {
			r.emit(Event{Type: EventLeave, Player: p})
		}
	}
}

func (r *Roster) emit(ev Event) {
	select {
	case r.events <- ev:
		if r.health != nil {
			r.health.HostEventsTotal.WithLabelValues(ev.Type.String()).Inc()
		}
	default:
		r.log.WithFields(logrus.Fields{
			"type":   ev.Type.String(),
			"player": ev.Player.ID.String(),
		}).Warn("Host event queue full, dropping event")

		if r.health != nil {
			r.health.HostEventsDropped.Inc()
		}
	}
}

// Events returns the notification channel. It is never closed.
func (r *Roster) Events() <-chan Event {
	return r.events
}

// OnlinePlayers returns the connected players ordered by id.
func (r *Roster) OnlinePlayers() []Player {
	r.mu.RLock()
	players := make([]Player, 0, len(r.online))
	for _, p := range r.online {
		players = append(players, p)
	}
	r.mu.RUnlock()

	sortPlayers(players)

	return players
}

// KnownPlayers merges the user cache, every lister and the online set.
// A failing source is logged and skipped.
func (r *Roster) KnownPlayers(ctx context.Context) ([]Player, error) {
	known := make(map[uuid.UUID]Player, 256)

	add := func(p Player) {
		if prev, ok := known[p.ID]; ok && p.Name == "" {
			p.Name = prev.Name
		}

		known[p.ID] = p
	}

	for _, lister := range r.listers {
		ids, err := lister.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			r.log.WithError(err).Warn("Listing known players failed")

			continue
		}

		for _, id := range ids {
			add(Player{ID: id})
		}
	}

	if r.userCache != nil {
		players, err := r.userCache.Load()
		if err != nil {
			r.log.WithError(err).Warn("Reading user cache failed")
		}

		for _, p := range players {
			add(p)
		}
	}

	for _, p := range r.OnlinePlayers() {
		add(p)
	}

	players := make([]Player, 0, len(known))
	for _, p := range known {
		players = append(players, p)
	}

	sortPlayers(players)

	return players, nil
}

func sortPlayers(players []Player) {
	sort.Slice(players, func(i, j int) bool {
		return players[i].ID.String() < players[j].ID.String()
	})
}
