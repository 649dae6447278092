// Package export produces and restores bulk copies of the visatrack data.
//
// A Snapshot is the JSON backup of settings plus applicants. An archive is a
// zip stream holding a plain-text summary and a copy of every referenced
// upload, grouped into one folder per applicant. Import is the inverse of a
// snapshot export: it validates the document shape, then replaces both
// collections wholesale.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/visatrack/storage"
	"github.com/c360studio/visatrack/uploads"
	"github.com/c360studio/visatrack/visa"
)

// Snapshot is the backup document.
type Snapshot struct {
	Settings   visa.Settings    `json:"settings"`
	Applicants []visa.Applicant `json:"applicants"`
}

// Bundler composes the registries and the upload store into bulk operations.
type Bundler struct {
	store      storage.DocumentStore
	applicants *visa.ApplicantRegistry
	settings   *visa.SettingsRegistry
	uploads    *uploads.Store
	logger     *slog.Logger
	now        func() time.Time
}

// NewBundler creates a Bundler. The registries must be backed by store.
func NewBundler(store storage.DocumentStore, applicants *visa.ApplicantRegistry, settings *visa.SettingsRegistry, up *uploads.Store, logger *slog.Logger) *Bundler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bundler{
		store:      store,
		applicants: applicants,
		settings:   settings,
		uploads:    up,
		logger:     logger,
		now:        time.Now,
	}
}

// Snapshot reads settings and the applicants whose ids are listed.
// An empty ids slice selects every applicant. Stored order is preserved and
// unknown ids are ignored.
func (b *Bundler) Snapshot(ctx context.Context, ids []string) (Snapshot, error) {
	settings, err := b.settings.Get(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	list, err := b.applicants.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Settings: settings, Applicants: filterApplicants(list, ids)}, nil
}

func filterApplicants(list []visa.Applicant, ids []string) []visa.Applicant {
	if len(ids) == 0 {
		return list
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]visa.Applicant, 0, len(ids))
	for _, a := range list {
		if want[a.ID] {
			out = append(out, a)
		}
	}
	return out
}

// ParseSnapshot decodes and validates a backup document.
//
// settings must be a JSON object and applicants a JSON array of objects.
// Applicants without an id are given one; duplicate ids are rejected.
// Every failure wraps ErrInvalidBackup.
func ParseSnapshot(data []byte) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Snapshot{}, fmt.Errorf("%w: backup must be a JSON object", ErrInvalidBackup)
	}

	rawSettings, ok := raw["settings"]
	if !ok || firstByte(rawSettings) != '{' {
		return Snapshot{}, fmt.Errorf("%w: settings must be an object", ErrInvalidBackup)
	}
	rawApplicants, ok := raw["applicants"]
	if !ok || firstByte(rawApplicants) != '[' {
		return Snapshot{}, fmt.Errorf("%w: applicants must be an array", ErrInvalidBackup)
	}

	var snap Snapshot
	if err := json.Unmarshal(rawSettings, &snap.Settings); err != nil {
		return Snapshot{}, fmt.Errorf("%w: settings: %v", ErrInvalidBackup, err)
	}
	if err := snap.Settings.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawApplicants, &items); err != nil {
		return Snapshot{}, fmt.Errorf("%w: applicants: %v", ErrInvalidBackup, err)
	}
	snap.Applicants = make([]visa.Applicant, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if firstByte(item) != '{' {
			return Snapshot{}, fmt.Errorf("%w: applicant %d must be an object", ErrInvalidBackup, i)
		}
		var a visa.Applicant
		if err := json.Unmarshal(item, &a); err != nil {
			return Snapshot{}, fmt.Errorf("%w: applicant %d: %v", ErrInvalidBackup, i, err)
		}
		if a.ID == "" {
			a.ID = visa.NewApplicantID()
		}
		if seen[a.ID] {
			return Snapshot{}, fmt.Errorf("%w: duplicate applicant id %s", ErrInvalidBackup, a.ID)
		}
		seen[a.ID] = true
		if a.Documents == nil {
			a.Documents = visa.Documents{}
		}
		if a.StepsCompleted == nil {
			a.StepsCompleted = map[string]bool{}
		}
		snap.Applicants = append(snap.Applicants, a)
	}
	return snap, nil
}

func firstByte(data json.RawMessage) byte {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return 0
	}
	return data[0]
}

// Import validates a backup and replaces both stored collections with it.
//
// Settings are written before applicants. If the applicants write fails the
// new settings stay in place; there is no rollback.
func (b *Bundler) Import(ctx context.Context, data []byte) (Snapshot, error) {
	snap, err := ParseSnapshot(data)
	if err != nil {
		return Snapshot{}, err
	}

	err = b.store.Replace(ctx,
		storage.Entry{Collection: storage.CollectionSettings, Value: snap.Settings},
		storage.Entry{Collection: storage.CollectionApplicants, Value: snap.Applicants},
	)
	if err != nil {
		b.logger.Error("Failed to import backup", "error", err)
		return Snapshot{}, fmt.Errorf("import backup: %w", err)
	}

	b.logger.Info("Imported backup", "applicants", len(snap.Applicants), "steps", len(snap.Settings.VisaSteps))
	return snap, nil
}
