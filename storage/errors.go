package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a collection has never been written.
	ErrNotFound = errors.New("collection not found")

	// ErrCorrupt is returned when a stored collection cannot be decoded.
	ErrCorrupt = errors.New("collection is corrupt")
)
