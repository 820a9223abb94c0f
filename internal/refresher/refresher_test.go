package refresher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/host"
	"github.com/plpmc/statmirror/internal/stats"
	"github.com/plpmc/statmirror/internal/store"
)

func testLog() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// fakeStore serves documents from memory. Ids without a document are not
// found; ids in corrupt fail to parse.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*stats.Document
	corrupt map[uuid.UUID]bool
	fetches int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:    make(map[uuid.UUID]*stats.Document),
		corrupt: make(map[uuid.UUID]bool),
	}
}

func (s *fakeStore) set(id uuid.UUID, jumps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[id] = &stats.Document{Stats: map[string]map[string]int64{
		stats.CategoryCustom: {stats.KeyJump: jumps},
	}}
	delete(s.corrupt, id)
}

func (s *fakeStore) delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)
}

func (s *fakeStore) breakDoc(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.corrupt[id] = true
}

func (s *fakeStore) Fetch(ctx context.Context, id uuid.UUID) store.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches++

	if err := ctx.Err(); err != nil {
		return store.Result{Outcome: store.OutcomeNotFound, Err: err}
	}

	if s.corrupt[id] {
		return store.Result{Outcome: store.OutcomeCorrupt, Err: errors.New("bad json")}
	}

	doc, ok := s.docs[id]
	if !ok {
		return store.Result{Outcome: store.OutcomeNotFound}
	}

	return store.Result{Document: doc, Outcome: store.OutcomeFound}
}

func (s *fakeStore) List(context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}

	return ids, nil
}

func newTestRefresher(t *testing.T, cfg Config) (*Refresher, *cache.Cache, *fakeStore, *host.Roster) {
	t.Helper()

	fs := newFakeStore()
	roster := host.NewRoster(testLog(), host.Config{}, nil, nil, fs)
	c := cache.New()

	return New(testLog(), cfg, c, fs, roster, nil), c, fs, roster
}

func TestPreload(t *testing.T) {
	r, c, fs, _ := newTestRefresher(t, Config{Concurrency: 2})

	a, b, broken := uuid.New(), uuid.New(), uuid.New()
	fs.set(a, 5)
	fs.set(b, 10)
	fs.set(broken, 1)
	fs.breakDoc(broken)

	loaded := r.Preload(context.Background())

	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(5), c.Statistic(a, stats.KeyJump))
	assert.Equal(t, int64(10), c.Statistic(b, stats.KeyJump))

	_, ok := c.Lookup(broken)
	assert.False(t, ok)
}

func TestPreload_RecordsNamesWithoutDocuments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usercache.json")

	withDoc, withoutDoc := uuid.New(), uuid.New()
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(
		`[{"name":"Steve","uuid":%q},{"name":"Ghost","uuid":%q}]`,
		withDoc.String(), withoutDoc.String(),
	)), 0o644))

	fs := newFakeStore()
	fs.set(withDoc, 2)

	roster := host.NewRoster(testLog(), host.Config{}, nil, host.NewUserCache(path), fs)
	c := cache.New()
	r := New(testLog(), Config{}, c, fs, roster, nil)

	assert.Equal(t, 1, r.Preload(context.Background()))
	assert.Equal(t, 1, c.Len())

	id, ok := c.ResolveID("ghost")
	require.True(t, ok)
	assert.Equal(t, withoutDoc, id)
	assert.True(t, c.Get(id).IsEmpty())

	id, ok = c.ResolveID("STEVE")
	require.True(t, ok)
	assert.Equal(t, withDoc, id)
}

func TestRefresh_ReplacesAndRemoves(t *testing.T) {
	r, c, fs, _ := newTestRefresher(t, Config{})
	ctx := context.Background()
	id := uuid.New()

	fs.set(id, 3)
	assert.Equal(t, store.OutcomeFound, r.Refresh(ctx, TriggerJoin, host.Player{ID: id, Name: "Steve"}))
	assert.Equal(t, int64(3), c.Statistic(id, stats.KeyJump))
	assert.Equal(t, "Steve", c.Name(id))

	fs.set(id, 4)
	r.Refresh(ctx, TriggerPeriodic, host.Player{ID: id})
	assert.Equal(t, int64(4), c.Statistic(id, stats.KeyJump))

	fs.breakDoc(id)
	assert.Equal(t, store.OutcomeCorrupt, r.Refresh(ctx, TriggerPeriodic, host.Player{ID: id}))

	_, ok := c.Lookup(id)
	assert.False(t, ok)

	fs.set(id, 7)
	r.Refresh(ctx, TriggerPeriodic, host.Player{ID: id})
	fs.delete(id)
	assert.Equal(t, store.OutcomeNotFound, r.Refresh(ctx, TriggerPeriodic, host.Player{ID: id}))

	_, ok = c.Lookup(id)
	assert.False(t, ok)
	assert.Equal(t, "Steve", c.Name(id))
}

func TestRefresh_CanceledDoesNotWrite(t *testing.T) {
	r, c, fs, _ := newTestRefresher(t, Config{})
	id := uuid.New()

	fs.set(id, 1)
	r.Refresh(context.Background(), TriggerJoin, host.Player{ID: id})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fs.delete(id)
	r.Refresh(ctx, TriggerPeriodic, host.Player{ID: id})

	assert.Equal(t, int64(1), c.Statistic(id, stats.KeyJump))
}

func TestHandleEvent_JoinAndLeave(t *testing.T) {
	r, c, fs, _ := newTestRefresher(t, Config{})
	ctx := context.Background()
	id := uuid.New()
	fs.set(id, 9)

	r.handleEvent(ctx, host.Event{Type: host.EventJoin, Player: host.Player{ID: id, Name: "Alex"}})

	// Presence and name are visible before the fetch completes.
	assert.True(t, c.IsOnline(id))

	resolved, ok := c.ResolveID("alex")
	require.True(t, ok)
	assert.Equal(t, id, resolved)

	require.Eventually(t, func() bool {
		return c.Statistic(id, stats.KeyJump) == 9
	}, 2*time.Second, 10*time.Millisecond)

	fs.set(id, 12)
	r.handleEvent(ctx, host.Event{Type: host.EventLeave, Player: host.Player{ID: id}})
	assert.False(t, c.IsOnline(id))

	require.Eventually(t, func() bool {
		return c.Statistic(id, stats.KeyJump) == 12
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
}

func TestRefreshOnline(t *testing.T) {
	r, c, fs, roster := newTestRefresher(t, Config{Concurrency: 1})
	ctx := context.Background()

	a, b, gone := uuid.New(), uuid.New(), uuid.New()
	fs.set(a, 1)
	fs.set(b, 2)

	c.MarkOnline(gone)
	roster.Sync([]host.Player{{ID: a, Name: "A"}, {ID: b, Name: "B"}})

	report := r.RefreshOnline(ctx)

	assert.Len(t, report.Players, 2)
	assert.Equal(t, 2, report.Outcomes[store.OutcomeFound])
	assert.ElementsMatch(t, []uuid.UUID{a, b}, c.OnlineIDs())
	assert.False(t, c.IsOnline(gone))
	assert.Equal(t, int64(2), c.Statistic(b, stats.KeyJump))
	assert.Equal(t, "B", c.Name(b))
}

func TestStart_EventsAndCycles(t *testing.T) {
	r, c, fs, roster := newTestRefresher(t, Config{Interval: 20 * time.Millisecond})

	known := uuid.New()
	fs.set(known, 1)

	cycles := make(chan CycleReport, 8)
	r.OnCycle(func(_ context.Context, report CycleReport) {
		select {
		case cycles <- report:
		default:
		}
	})

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	select {
	case <-r.PreloadDone():
	case <-time.After(2 * time.Second):
		t.Fatal("preload did not finish")
	}

	assert.Equal(t, int64(1), c.Statistic(known, stats.KeyJump))

	joined := uuid.New()
	fs.set(joined, 4)
	roster.Join(host.Player{ID: joined, Name: "Joiner"})

	require.Eventually(t, func() bool {
		return c.IsOnline(joined) && c.Statistic(joined, stats.KeyJump) == 4
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case report := <-cycles:
		assert.NotZero(t, report.Started)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh cycle observed")
	}
}

func TestStop_Idempotent(t *testing.T) {
	r, _, _, _ := newTestRefresher(t, Config{})

	require.NoError(t, r.Start(context.Background()))
	r.Stop()
	r.Stop()
}
