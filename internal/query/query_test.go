package query

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plpmc/statmirror/internal/cache"
	"github.com/plpmc/statmirror/internal/stats"
)

func doc(categories map[string]map[string]int64) *stats.Document {
	return &stats.Document{Stats: categories}
}

func jumps(n int64) *stats.Document {
	return doc(map[string]map[string]int64{
		stats.CategoryCustom: {stats.KeyJump: n},
	})
}

func mustID(t *testing.T, s string) uuid.UUID {
	t.Helper()

	id, err := uuid.Parse(s)
	require.NoError(t, err)

	return id
}

func TestTop_LimitOne(t *testing.T) {
	c := cache.New()
	low, high := uuid.New(), uuid.New()
	c.Put(low, jumps(5), "Low")
	c.Put(high, jumps(10), "High")

	svc := New(c, Limits{MaxTop: 20})

	ranked, err := svc.Top("minecraft:jump", 1)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, RankEntry{
		UUID:    high.String(),
		Name:    "High",
		Value:   10,
		StatKey: "minecraft:jump",
	}, ranked[0])
}

func TestTop_TieBreakByID(t *testing.T) {
	c := cache.New()
	a := mustID(t, "00000000-0000-0000-0000-00000000000a")
	b := mustID(t, "00000000-0000-0000-0000-00000000000b")
	z := mustID(t, "ffffffff-0000-0000-0000-000000000000")

	c.Put(b, jumps(7), "")
	c.Put(z, jumps(9), "")
	c.Put(a, jumps(7), "")

	ranked, err := New(c, Limits{MaxTop: 20}).Top("minecraft:jump", 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)

	assert.Equal(t, z.String(), ranked[0].UUID)
	assert.Equal(t, a.String(), ranked[1].UUID)
	assert.Equal(t, b.String(), ranked[2].UUID)
	assert.Equal(t, cache.UnknownName, ranked[1].Name)
}

func TestTop_Bounds(t *testing.T) {
	c := cache.New()
	for i := 0; i < 5; i++ {
		c.Put(uuid.New(), jumps(int64(i)), "")
	}

	svc := New(c, Limits{MaxTop: 3})

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "no limit uses max", limit: 0, want: 3},
		{name: "negative uses max", limit: -4, want: 3},
		{name: "below max", limit: 2, want: 2},
		{name: "above max", limit: 50, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked, err := svc.Top("minecraft:jump", tt.limit)
			require.NoError(t, err)
			assert.Len(t, ranked, tt.want)

			for i := 1; i < len(ranked); i++ {
				assert.GreaterOrEqual(t, ranked[i-1].Value, ranked[i].Value)
			}
		})
	}

	ranked, err := New(cache.New(), Limits{MaxTop: 3}).Top("minecraft:jump", 10)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestTop_CategoryPriority(t *testing.T) {
	c := cache.New()
	id := uuid.New()
	c.Put(id, doc(map[string]map[string]int64{
		stats.CategoryMined:  {"minecraft:stone": 4},
		stats.CategoryCustom: {"minecraft:stone": 1},
	}), "")

	ranked, err := New(c, Limits{MaxTop: 1}).Top(" minecraft:stone ", 0)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(1), ranked[0].Value)
	assert.Equal(t, "minecraft:stone", ranked[0].StatKey)
}

func TestTop_InvalidKey(t *testing.T) {
	svc := New(cache.New(), Limits{})

	for _, key := range []string{"", "   ", "Minecraft:Jump", "a/b", "x y"} {
		_, err := svc.Top(key, 0)
		assert.ErrorIs(t, err, ErrInvalidStatKey, key)
	}
}

func TestSummary(t *testing.T) {
	c := cache.New()
	c.Put(uuid.New(), doc(map[string]map[string]int64{
		stats.CategoryCustom:  {stats.KeyJump: 2, stats.KeyDeaths: 1, stats.KeyPlayTime: 100},
		stats.CategoryMined:   {"minecraft:stone": 3},
		stats.CategoryCrafted: {"minecraft:torch": 4},
	}), "")
	c.Put(uuid.New(), doc(map[string]map[string]int64{
		stats.CategoryCustom: {stats.KeyJump: 3},
		stats.CategoryMined:  {"minecraft:stone": 2, "minecraft:dirt": 1},
	}), "")
	c.Put(uuid.New(), stats.Empty(), "")

	s := New(c, Limits{}).Summary()

	assert.Equal(t, Summary{
		Players: 3,
		Totals: Totals{
			TotalJumps:    5,
			TotalDeaths:   1,
			TotalPlaytime: 100,
			BlocksMined:   6,
			ItemsCrafted:  4,
		},
	}, s)
}

func TestPlayer(t *testing.T) {
	c := cache.New()
	id := uuid.New()
	c.Put(id, jumps(3), "Steve")

	svc := New(c, Limits{})

	got, err := svc.Player(id.String())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Statistic(stats.KeyJump))

	got, err = svc.Player(uuid.New().String())
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	for _, raw := range []string{"", "nope", "urn:uuid:" + id.String(), "{" + id.String() + "}"} {
		_, err = svc.Player(raw)
		assert.ErrorIs(t, err, ErrInvalidID, raw)
	}
}

func TestPlayerByName(t *testing.T) {
	c := cache.New()
	id := uuid.New()
	c.Put(id, jumps(8), "Foo")

	svc := New(c, Limits{})

	for _, name := range []string{"foo", "FOO", "Foo"} {
		got, err := svc.PlayerByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, int64(8), got.Statistic(stats.KeyJump))
	}

	_, err := svc.PlayerByName("Nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"", "way_too_long_name_x", "bad-name", "sp ace"} {
		_, err = svc.PlayerByName(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestPlayers(t *testing.T) {
	c := cache.New()
	a := mustID(t, "00000000-0000-0000-0000-000000000001")
	b := mustID(t, "00000000-0000-0000-0000-000000000002")
	offline := mustID(t, "00000000-0000-0000-0000-000000000003")

	c.Put(b, jumps(1), "B")
	c.Put(a, jumps(2), "A")
	c.MarkOnline(a)
	c.MarkOnline(offline)
	c.MarkOffline(offline)

	svc := New(c, Limits{MaxPlayers: 0})

	all := svc.Players(0)
	require.Len(t, all, 2)
	assert.Equal(t, PlayerEntry{UUID: a.String(), Name: "A", Online: true, Stats: jumps(2)}, all[0])
	assert.Equal(t, b.String(), all[1].UUID)
	assert.False(t, all[1].Online)

	assert.Len(t, svc.Players(1), 1)

	capped := New(c, Limits{MaxPlayers: 1})
	assert.Len(t, capped.Players(0), 1)
	assert.Len(t, capped.Players(5), 1)
}

func TestOnline(t *testing.T) {
	c := cache.New()
	cached, fresh := uuid.New(), uuid.New()

	c.Put(cached, jumps(1), "Cached")
	c.MarkOnline(cached)
	c.MarkOnline(fresh)
	c.RecordName(fresh, "Fresh")

	online := New(c, Limits{}).Online(0)
	require.Len(t, online, 2)

	byID := map[string]PlayerEntry{}
	for _, e := range online {
		byID[e.UUID] = e
	}

	assert.True(t, byID[fresh.String()].Online)
	assert.Equal(t, "Fresh", byID[fresh.String()].Name)
	assert.True(t, byID[fresh.String()].Stats.IsEmpty())
	assert.Equal(t, int64(1), byID[cached.String()].Stats.Statistic(stats.KeyJump))
}

func TestResolveLimit(t *testing.T) {
	assert.Equal(t, 5, ResolveLimit(5, 10))
	assert.Equal(t, 10, ResolveLimit(50, 10))
	assert.Equal(t, 10, ResolveLimit(0, 10))
	assert.Equal(t, 10, ResolveLimit(-1, 10))
	assert.Equal(t, 50, ResolveLimit(50, 0))
	assert.Equal(t, 0, ResolveLimit(0, 0))
}

func TestNew_ClampsLimits(t *testing.T) {
	l := New(cache.New(), Limits{MaxPlayers: -3, MaxTop: 0}).Limits()
	assert.Equal(t, 0, l.MaxPlayers)
	assert.Equal(t, 1, l.MaxTop)
}
