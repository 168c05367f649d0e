package storage

import "errors"

var (
	// ErrRunNotFound is returned when a triage run is not found
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidPath is returned for database paths that cannot be opened safely
	ErrInvalidPath = errors.New("invalid database path")
)
