package export

import (
	"fmt"
	"time"
)

// Format is an export type requested by a client.
type Format string

const (
	// FormatBackup is the JSON snapshot of settings and applicants.
	FormatBackup Format = "backup"

	// FormatZip is the archive of a text summary plus referenced documents.
	FormatZip Format = "zip"
)

// FormatInfo provides metadata about an export format.
type FormatInfo struct {
	// Name is the format identifier.
	Name Format

	// MIMEType is the Content-Type of the response body.
	MIMEType string

	// Extension is the file extension (with dot).
	Extension string

	// FilePrefix starts the suggested download file name.
	FilePrefix string

	// AdminOnly marks formats that expose the admin password.
	AdminOnly bool
}

// FormatRegistry contains metadata for all supported formats.
var FormatRegistry = map[Format]FormatInfo{
	FormatBackup: {
		Name:       FormatBackup,
		MIMEType:   "application/json",
		Extension:  ".json",
		FilePrefix: "visa-backup",
		AdminOnly:  true,
	},
	FormatZip: {
		Name:       FormatZip,
		MIMEType:   "application/zip",
		Extension:  ".zip",
		FilePrefix: "visa-documents",
	},
}

// GetFormatInfo returns metadata for a format.
func GetFormatInfo(format Format) (FormatInfo, bool) {
	info, ok := FormatRegistry[format]
	return info, ok
}

// ParseFormat validates a requested export type.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if _, ok := FormatRegistry[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// FileName suggests a download name such as visa-backup-2024-05-01.json.
func (i FormatInfo) FileName(at time.Time) string {
	return i.FilePrefix + "-" + at.Format("2006-01-02") + i.Extension
}
