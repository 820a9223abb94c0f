package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/uuid"
)

// UserCache reads the server's usercache.json, which maps every player
// that ever joined to their last known name.
type UserCache struct {
	path string
}

type userCacheEntry struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// NewUserCache creates a reader for path. An empty path reads nothing.
func NewUserCache(path string) *UserCache {
	return &UserCache{path: path}
}

// Load reads the file. A missing file is not an error. Entries with an
// invalid uuid are skipped.
func (u *UserCache) Load() ([]Player, error) {
	if u == nil || u.path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(u.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading %s: %w", u.path, err)
	}

	var entries []userCacheEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", u.path, err)
	}

	players := make([]Player, 0, len(entries))

	for _, e := range entries {
		id, err := uuid.Parse(e.UUID)
		if err != nil {
			continue
		}

		players = append(players, Player{ID: id, Name: e.Name})
	}

	return players, nil
}
