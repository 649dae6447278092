package export

import "errors"

var (
	// ErrInvalidBackup is returned when an import document has the wrong shape.
	// The store is never touched when this error is returned.
	ErrInvalidBackup = errors.New("invalid backup file format")

	// ErrUnsupportedFormat is returned for an unknown export type.
	ErrUnsupportedFormat = errors.New("unsupported export type")
)
