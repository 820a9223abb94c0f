package query

import (
	"github.com/plpmc/statmirror/internal/stats"
)

// Totals are the server-wide sums.
type Totals struct {
	TotalJumps    int64 `json:"total_jumps"`
	TotalDeaths   int64 `json:"total_deaths"`
	TotalPlaytime int64 `json:"total_playtime"`
	BlocksMined   int64 `json:"blocks_mined"`
	ItemsCrafted  int64 `json:"items_crafted"`
}

// Summary is the aggregate over all cached players.
type Summary struct {
	Players int    `json:"players"`
	Totals  Totals `json:"totals"`
}

// Summary aggregates the cached documents in a single pass.
func (s *Service) Summary() Summary {
	snapshot := s.cache.Snapshot()
	out := Summary{Players: len(snapshot)}

	for _, e := range snapshot {
		doc := e.Document
		if doc.IsEmpty() {
			continue
		}

		out.Totals.TotalJumps += doc.Counter(stats.CategoryCustom, stats.KeyJump)
		out.Totals.TotalDeaths += doc.Counter(stats.CategoryCustom, stats.KeyDeaths)
		out.Totals.TotalPlaytime += doc.Counter(stats.CategoryCustom, stats.KeyPlayTime)
		out.Totals.BlocksMined += doc.CategoryTotal(stats.CategoryMined)
		out.Totals.ItemsCrafted += doc.CategoryTotal(stats.CategoryCrafted)
	}

	return out
}
