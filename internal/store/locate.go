package store

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Locate when no stats directory exists.
var ErrNotFound = errors.New("no stats directory found")

// Locate resolves the stats directory. Candidates are tried in order:
// the explicit folder, the configured world's stats directory, then the
// stats directory of any world in the container (alphabetical).
func Locate(log logrus.FieldLogger, cfg Config) (string, error) {
	log = log.WithField("component", "store")

	container := cfg.WorldContainer
	if container == "" {
		container = "."
	}

	if folder := strings.TrimSpace(cfg.Folder); folder != "" {
		candidate := resolve(container, folder)
		if isDir(candidate) {
			log.WithField("dir", candidate).Info("Using configured stats folder")

			return candidate, nil
		}

		log.WithField("dir", candidate).
			Warn("Configured stats folder is missing or not a directory")
	}

	world := cfg.World
	if world == "" {
		world = DefaultWorld
	}

	candidate := filepath.Join(container, world, "stats")
	if isDir(candidate) {
		log.WithFields(logrus.Fields{
			"world": world,
			"dir":   candidate,
		}).Info("Using world stats directory")

		return candidate, nil
	}

	entries, err := os.ReadDir(container)
	if err != nil {
		return "", errors.Join(ErrNotFound, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	for _, name := range names {
		candidate := filepath.Join(container, name, "stats")
		if isDir(candidate) {
			log.WithFields(logrus.Fields{
				"world": name,
				"dir":   candidate,
			}).Info("Using stats directory of first world found")

			return candidate, nil
		}
	}

	return "", ErrNotFound
}

// ResolvePath resolves a configured path against the world container.
func ResolvePath(cfg Config, path string) string {
	container := cfg.WorldContainer
	if container == "" {
		container = "."
	}

	return resolve(container, path)
}

func resolve(container, path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(container, path)
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
