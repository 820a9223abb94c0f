package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plpmc/statmirror/internal/stats"
)

// Outcome classifies a fetch.
type Outcome int

const (
	// OutcomeFound means a document was read and parsed.
	OutcomeFound Outcome = iota
	// OutcomeNotFound means no document exists for the player.
	OutcomeNotFound
	// OutcomeCorrupt means a document exists but could not be read or parsed.
	OutcomeCorrupt
)

// String returns the outcome name used in logs and metric labels.
func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Result is the outcome of fetching one document. Document is set only
// for OutcomeFound. Err carries the cause for OutcomeCorrupt, or the
// context error when the fetch was abandoned.
type Result struct {
	Document *stats.Document
	Outcome  Outcome
	Err      error
}

// Store provides read access to the backing stats documents.
type Store interface {
	// Fetch returns the current document for id.
	Fetch(ctx context.Context, id uuid.UUID) Result
	// List returns the ids of every player with a document.
	List(ctx context.Context) ([]uuid.UUID, error)
}

// FileStore reads documents from a stats directory, one <uuid>.json per
// player. An empty dir yields NotFound for every player.
type FileStore struct {
	log logrus.FieldLogger
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store over dir.
func NewFileStore(log logrus.FieldLogger, dir string) *FileStore {
	return &FileStore{
		log: log.WithField("component", "store"),
		dir: dir,
	}
}

// Dir returns the stats directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the document path for id.
func (s *FileStore) Path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

func (s *FileStore) Fetch(ctx context.Context, id uuid.UUID) Result {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: OutcomeNotFound, Err: err}
	}

	if s.dir == "" {
		return Result{Outcome: OutcomeNotFound}
	}

	path := s.Path(id)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Outcome: OutcomeNotFound}
		}

		return Result{
			Outcome: OutcomeCorrupt,
			Err:     fmt.Errorf("reading %s: %w", path, err),
		}
	}

	doc, err := stats.Parse(data)
	if err != nil {
		return Result{
			Outcome: OutcomeCorrupt,
			Err:     fmt.Errorf("parsing %s: %w", path, err),
		}
	}

	return Result{Document: doc, Outcome: OutcomeFound}
}

func (s *FileStore) List(ctx context.Context) ([]uuid.UUID, error) {
	if s.dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	ids := make([]uuid.UUID, 0, len(entries))

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		id, err := uuid.Parse(strings.TrimSuffix(name, ".json"))
		if err != nil {
			s.log.WithField("file", name).
				Debug("Skipping non-player file in stats directory")

			continue
		}

		ids = append(ids, id)
	}

	return ids, nil
}
