// Package query answers read-only questions about the stats cache: point
// lookups, listings, rankings and the global summary.
package query

import (
	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/stats"
)

// Limits are the configured result maxima.
type Limits struct {
	// MaxPlayers caps listings. 0 means unlimited.
	MaxPlayers int
	// MaxTop caps rankings. Values below 1 are raised to 1.
	MaxTop int
}

// PlayerEntry is one element of a listing.
type PlayerEntry struct {
	UUID   string          `json:"uuid"`
	Name   string          `json:"name"`
	Online bool            `json:"online"`
	Stats  *stats.Document `json:"stats"`
}

// Service is stateless; every call reads the cache afresh.
type Service struct {
	cache  *cache.Cache
	limits Limits
}

// New creates a query service over c.
func New(c *cache.Cache, limits Limits) *Service {
	if limits.MaxTop < 1 {
		limits.MaxTop = 1
	}

	if limits.MaxPlayers < 0 {
		limits.MaxPlayers = 0
	}

	return &Service{cache: c, limits: limits}
}

// Limits returns the effective limits.
func (s *Service) Limits() Limits {
	return s.limits
}

// Player returns the document of the player with the given id. Unknown
// players get an empty document.
func (s *Service) Player(rawID string) (*stats.Document, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}

	return s.cache.Get(id), nil
}

// PlayerByName resolves name case-insensitively and returns the player's
// document.
func (s *Service) PlayerByName(name string) (*stats.Document, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	id, ok := s.cache.ResolveID(name)
	if !ok {
		return nil, ErrNotFound
	}

	return s.cache.Get(id), nil
}

// Players lists every cached player ordered by id. limit is the requested
// count; see ResolveLimit.
func (s *Service) Players(limit int) []PlayerEntry {
	return toEntries(s.cache.Snapshot(), ResolveLimit(limit, s.limits.MaxPlayers))
}

// Online lists the online players ordered by id.
func (s *Service) Online(limit int) []PlayerEntry {
	return toEntries(s.cache.OnlineSnapshot(), ResolveLimit(limit, s.limits.MaxPlayers))
}

func toEntries(snapshot []cache.Entry, limit int) []PlayerEntry {
	if limit > 0 && len(snapshot) > limit {
		snapshot = snapshot[:limit]
	}

	out := make([]PlayerEntry, 0, len(snapshot))

	for _, e := range snapshot {
		out = append(out, PlayerEntry{
			UUID:   e.ID.String(),
			Name:   e.Name,
			Online: e.Online,
			Stats:  e.Document,
		})
	}

	return out
}
