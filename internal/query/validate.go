package query

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("invalid uuid")
	// ErrInvalidName is returned for names outside [A-Za-z0-9_]{1,16}.
	ErrInvalidName = errors.New("invalid player name")
	// ErrInvalidStatKey is returned for keys outside [a-z0-9_:.-]{1,128}.
	ErrInvalidStatKey = errors.New("invalid stat key")
	// ErrNotFound is returned when a well-formed name is not registered.
	ErrNotFound = errors.New("player not found")
)

var (
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_]{1,16}$`)
	statKeyRe = regexp.MustCompile(`^[a-z0-9_:\-.]{1,128}$`)
)

// ParseID parses a UUID in its canonical dashed form.
func ParseID(raw string) (uuid.UUID, error) {
	// uuid.Parse also accepts urn: and braced forms; only the plain forms
	// are valid in a path segment.
	if len(raw) != 36 && len(raw) != 32 {
		return uuid.Nil, ErrInvalidID
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}

	return id, nil
}

// ValidateName checks a player name.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}

	return nil
}

// ValidateStatKey trims key and checks it. It returns the trimmed key.
func ValidateStatKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if !statKeyRe.MatchString(key) {
		return "", ErrInvalidStatKey
	}

	return key, nil
}

// ResolveLimit applies a requested result count to a configured maximum.
// A positive request is capped by maximum, unless maximum is 0 (uncapped).
// Any other request yields maximum. A result of 0 means no limit.
func ResolveLimit(requested, maximum int) int {
	if requested <= 0 {
		return maximum
	}

	if maximum > 0 && requested > maximum {
		return maximum
	}

	return requested
}
