package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewEntityID mints a stable 128-bit entity identifier. A random UUID is
// used rather than a content-derived hash: entity ids in a synced graph
// must never collide across independently-created genesis versions on
// different nodes, which calls for randomness, not a content hash.
func NewEntityID() string {
	return uuid.New().String()
}

// NewRelationshipID mints a stable identifier for a relationship record.
func NewRelationshipID() string {
	return uuid.New().String()
}

// versionTimeLayout is RFC3339 with millisecond precision, UTC.
const versionTimeLayout = "2006-01-02T15:04:05.000Z"

// NewVersion renders a version string as
// "{ISO8601 UTC with millisecond precision, suffix Z}-{user_id}".
func NewVersion(t time.Time, userID string) string {
	return fmt.Sprintf("%s-%s", t.UTC().Format(versionTimeLayout), userID)
}

// ParseVersionTimestamp extracts the timestamp component of a version
// string for comparison purposes. Version strings are otherwise compared
// lexicographically, never parsed for ordering.
func ParseVersionTimestamp(version string) (time.Time, error) {
	idx := strings.LastIndex(version, "-")
	if idx <= 0 {
		return time.Time{}, fmt.Errorf("malformed version string %q", version)
	}
	// The timestamp component itself contains no hyphens after the date
	// portion's dashes, which are positional, not separators; splitting on
	// the *first* occurrence of "T" boundary is unnecessary since the
	// timestamp prefix is fixed-width up to the literal "Z".
	zIdx := strings.Index(version, "Z")
	if zIdx < 0 {
		return time.Time{}, fmt.Errorf("malformed version string %q: missing Z", version)
	}
	ts := version[:zIdx+1]
	t, err := time.Parse(versionTimeLayout, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed version string %q: %w", version, err)
	}
	return t, nil
}

// VersionUserID extracts the user_id suffix of a version string.
func VersionUserID(version string) (string, error) {
	zIdx := strings.Index(version, "Z")
	if zIdx < 0 || zIdx+1 >= len(version) || version[zIdx+1] != '-' {
		return "", fmt.Errorf("malformed version string %q", version)
	}
	return version[zIdx+2:], nil
}
