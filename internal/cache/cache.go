// Package cache holds the in-memory mirror of player statistics together
// with the id<->name index and the set of online players.
//
// All methods are safe for concurrent use. Documents are swapped as whole
// values; a reader sees either the previous or the next document of a
// player, never a mix of the two.
package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/plpmc/statmirror/internal/stats"
)

// UnknownName is returned by Name for players without a recorded name.
const UnknownName = "Unknown"

// Entry is a point-in-time copy of one cached player.
type Entry struct {
	ID       uuid.UUID
	Name     string
	Online   bool
	Document *stats.Document
}

// Cache is the authoritative in-memory store of statistics documents.
type Cache struct {
	mu sync.RWMutex

	docs map[uuid.UUID]*stats.Document

	// names keeps the display casing; ids is keyed by lower-cased name.
	names map[uuid.UUID]string
	ids   map[string]uuid.UUID

	online map[uuid.UUID]struct{}
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		docs:   make(map[uuid.UUID]*stats.Document, 256),
		names:  make(map[uuid.UUID]string, 256),
		ids:    make(map[string]uuid.UUID, 256),
		online: make(map[uuid.UUID]struct{}, 64),
	}
}

// Get returns the stored document for id, or an empty document.
func (c *Cache) Get(id uuid.UUID) *stats.Document {
	if doc, ok := c.Lookup(id); ok {
		return doc
	}

	return stats.Empty()
}

// Lookup returns the stored document and whether one exists.
func (c *Cache) Lookup(id uuid.UUID) (*stats.Document, bool) {
	c.mu.RLock()
	doc, ok := c.docs[id]
	c.mu.RUnlock()

	return doc, ok
}

// Statistic resolves key against the player's document using the
// category priority order. Unknown players resolve to 0.
func (c *Cache) Statistic(id uuid.UUID, key string) int64 {
	doc, ok := c.Lookup(id)
	if !ok {
		return 0
	}

	return doc.Statistic(key)
}

// Put replaces the document for id. A non-blank name is recorded too.
func (c *Cache) Put(id uuid.UUID, doc *stats.Document, name string) {
	if doc == nil {
		doc = stats.Empty()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.docs[id] = doc
	c.recordNameLocked(id, name)
}

// Remove drops the document for id. It reports whether one was present.
// Name and online state are kept; they describe the player, not the file.
func (c *Cache) Remove(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.docs[id]; !ok {
		return false
	}

	delete(c.docs, id)

	return true
}

// RecordName upserts the id<->name mapping. Blank names are ignored.
// If another player held the same name, the name now resolves to id.
func (c *Cache) RecordName(id uuid.UUID, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordNameLocked(id, name)
}

func (c *Cache) recordNameLocked(id uuid.UUID, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	key := strings.ToLower(name)

	if prev, ok := c.names[id]; ok {
		prevKey := strings.ToLower(prev)
		if prevKey != key && c.ids[prevKey] == id {
			delete(c.ids, prevKey)
		}
	}

	// A previous holder of the same name keeps its display name but
	// loses the reverse mapping.
	c.names[id] = name
	c.ids[key] = id
}

// ResolveID looks a player up by name, ignoring case.
func (c *Cache) ResolveID(name string) (uuid.UUID, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return uuid.Nil, false
	}

	c.mu.RLock()
	id, ok := c.ids[key]
	c.mu.RUnlock()

	return id, ok
}

// Name returns the recorded display name for id, or UnknownName.
func (c *Cache) Name(id uuid.UUID) string {
	c.mu.RLock()
	name, ok := c.names[id]
	c.mu.RUnlock()

	if !ok {
		return UnknownName
	}

	return name
}

// MarkOnline adds id to the online set.
func (c *Cache) MarkOnline(id uuid.UUID) {
	c.mu.Lock()
	c.online[id] = struct{}{}
	c.mu.Unlock()
}

// MarkOffline removes id from the online set.
func (c *Cache) MarkOffline(id uuid.UUID) {
	c.mu.Lock()
	delete(c.online, id)
	c.mu.Unlock()
}

// ResyncOnline replaces the online set wholesale.
func (c *Cache) ResyncOnline(ids []uuid.UUID) {
	online := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		online[id] = struct{}{}
	}

	c.mu.Lock()
	c.online = online
	c.mu.Unlock()
}

// IsOnline reports whether id is in the online set.
func (c *Cache) IsOnline(id uuid.UUID) bool {
	c.mu.RLock()
	_, ok := c.online[id]
	c.mu.RUnlock()

	return ok
}

// IDs returns every player with a cached document, ordered by the
// canonical string form of the id.
func (c *Cache) IDs() []uuid.UUID {
	c.mu.RLock()
	ids := make([]uuid.UUID, 0, len(c.docs))
	for id := range c.docs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sortIDs(ids)

	return ids
}

// OnlineIDs returns the online set, ordered like IDs.
func (c *Cache) OnlineIDs() []uuid.UUID {
	c.mu.RLock()
	ids := make([]uuid.UUID, 0, len(c.online))
	for id := range c.online {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	sortIDs(ids)

	return ids
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.docs)
}

// OnlineCount returns the size of the online set.
func (c *Cache) OnlineCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.online)
}

// NameCount returns the number of indexed names.
func (c *Cache) NameCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.ids)
}

// Snapshot copies every cached player under a single read lock, ordered
// like IDs. Callers can sort or aggregate it without observing
// concurrent refreshes.
func (c *Cache) Snapshot() []Entry {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.docs))
	for id, doc := range c.docs {
		entries = append(entries, c.entryLocked(id, doc))
	}
	c.mu.RUnlock()

	sortEntries(entries)

	return entries
}

// OnlineSnapshot is Snapshot restricted to the online set. Online players
// without a document carry an empty one.
func (c *Cache) OnlineSnapshot() []Entry {
	c.mu.RLock()
	entries := make([]Entry, 0, len(c.online))
	for id := range c.online {
		doc, ok := c.docs[id]
		if !ok {
			doc = stats.Empty()
		}

		entries = append(entries, c.entryLocked(id, doc))
	}
	c.mu.RUnlock()

	sortEntries(entries)

	return entries
}

func (c *Cache) entryLocked(id uuid.UUID, doc *stats.Document) Entry {
	name, ok := c.names[id]
	if !ok {
		name = UnknownName
	}

	_, online := c.online[id]

	return Entry{
		ID:       id,
		Name:     name,
		Online:   online,
		Document: doc,
	}
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.String() < entries[j].ID.String()
	})
}
