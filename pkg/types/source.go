package types

import (
	"fmt"
	"time"
)

// SourceStatus is the sync state of a tracked source file
type SourceStatus string

const (
	SourceSynced  SourceStatus = "synced"
	SourceError   SourceStatus = "error"
	SourceDeleted SourceStatus = "deleted"
)

// Valid reports whether s is one of the known statuses
func (s SourceStatus) Valid() bool {
	switch s {
	case SourceSynced, SourceError, SourceDeleted:
		return true
	default:
		return false
	}
}

// ParseSourceStatus converts a string into a SourceStatus
func ParseSourceStatus(s string) (SourceStatus, error) {
	status := SourceStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown source status %q", ErrInvalidRequest, s)
	}
	return status, nil
}

// SourceRecord is the per-source-file sync bookkeeping row.
// A record is created on the first sync attempt of a file and is never
// physically removed except by a full clear; removal upstream turns it
// into a tombstone with Status == SourceDeleted.
type SourceRecord struct {
	SourceID       string
	Filename       string
	Category       string
	ModifiedMarker string // Opaque upstream change marker
	LastSynced     time.Time
	ChunkCount     int
	Status         SourceStatus
	LastError      string
}

// Tombstoned reports whether the record has been marked deleted
func (r *SourceRecord) Tombstoned() bool {
	return r.Status == SourceDeleted
}
