//go:build sqlite_vec && !purego

package storage

// Compiled with CGO and the sqlite_vec tag. Dense search is pushed down to
// SQL via vec_distance_cosine when the sqlite-vec extension is loaded into
// the driver; otherwise it falls back to cosine similarity in Go.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
