package query

import (
	"sort"
)

// RankEntry is one element of a ranking.
type RankEntry struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Value   int64  `json:"value"`
	StatKey string `json:"stat_key"`
}

// Top ranks every cached player by the statistic key, highest first. Equal
// values are ordered by ascending id. The result holds at most
// min(limit, MaxTop) entries; a non-positive limit means MaxTop.
func (s *Service) Top(key string, limit int) ([]RankEntry, error) {
	key, err := ValidateStatKey(key)
	if err != nil {
		return nil, err
	}

	snapshot := s.cache.Snapshot()
	ranked := make([]RankEntry, 0, len(snapshot))

	for _, e := range snapshot {
		ranked = append(ranked, RankEntry{
			UUID:    e.ID.String(),
			Name:    e.Name,
			Value:   e.Document.Statistic(key),
			StatKey: key,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}

		return ranked[i].UUID < ranked[j].UUID
	})

	if n := ResolveLimit(limit, s.limits.MaxTop); len(ranked) > n {
		ranked = ranked[:n]
	}

	return ranked, nil
}
