package visa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/c360studio/visatrack/storage"
	"github.com/google/uuid"
)

// ApplicantRegistry manages the applicant collection.
//
// Every mutation reads the whole collection, changes it in memory and writes
// it back. Nothing is cached between calls, so concurrent writers race and
// the later write wins.
type ApplicantRegistry struct {
	store  storage.DocumentStore
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// NewApplicantRegistry creates a registry over store.
func NewApplicantRegistry(store storage.DocumentStore, logger *slog.Logger) *ApplicantRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApplicantRegistry{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
}

// NewApplicantID returns a fresh applicant id.
func NewApplicantID() string {
	return uuid.New().String()
}

// Seed writes an empty applicant list if the collection does not exist.
func (r *ApplicantRegistry) Seed(ctx context.Context) (bool, error) {
	var existing []Applicant
	err := r.store.Get(ctx, storage.CollectionApplicants, &existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if err := r.store.Put(ctx, storage.CollectionApplicants, []Applicant{}); err != nil {
		return false, fmt.Errorf("seed applicants: %w", err)
	}
	return true, nil
}

// List returns every applicant, newest first.
func (r *ApplicantRegistry) List(ctx context.Context) ([]Applicant, error) {
	var list []Applicant
	if err := r.store.Get(ctx, storage.CollectionApplicants, &list); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []Applicant{}, nil
		}
		return nil, fmt.Errorf("load applicants: %w", err)
	}
	if list == nil {
		list = []Applicant{}
	}
	for i := range list {
		list[i].normalize()
	}
	return list, nil
}

// Get returns a single applicant.
func (r *ApplicantRegistry) Get(ctx context.Context, id string) (Applicant, error) {
	list, err := r.List(ctx)
	if err != nil {
		return Applicant{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		return Applicant{}, fmt.Errorf("%w: %s", ErrApplicantNotFound, id)
	}
	return list[i], nil
}

// Create stores a new applicant at the front of the list.
func (r *ApplicantRegistry) Create(ctx context.Context, p ApplicantPatch) (Applicant, error) {
	list, err := r.List(ctx)
	if err != nil {
		return Applicant{}, err
	}

	now := r.now()
	a := Applicant{
		ID:        r.newID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.ApplyTo(&a)

	list = slices.Insert(list, 0, a)
	if err := r.store.Put(ctx, storage.CollectionApplicants, list); err != nil {
		return Applicant{}, fmt.Errorf("save applicants: %w", err)
	}

	r.logger.Info("Created applicant", "id", a.ID)
	return a, nil
}

// Update overlays the patch onto an existing applicant.
func (r *ApplicantRegistry) Update(ctx context.Context, id string, p ApplicantPatch) (Applicant, error) {
	list, err := r.List(ctx)
	if err != nil {
		return Applicant{}, err
	}
	i := indexOf(list, id)
	if i < 0 {
		return Applicant{}, fmt.Errorf("%w: %s", ErrApplicantNotFound, id)
	}

	a := list[i]
	p.ApplyTo(&a)
	a.UpdatedAt = r.now()
	list[i] = a

	if err := r.store.Put(ctx, storage.CollectionApplicants, list); err != nil {
		return Applicant{}, fmt.Errorf("save applicants: %w", err)
	}

	r.logger.Info("Updated applicant", "id", id)
	return a, nil
}

// Delete removes an applicant. Uploaded files it references are left in place.
func (r *ApplicantRegistry) Delete(ctx context.Context, id string) error {
	list, err := r.List(ctx)
	if err != nil {
		return err
	}
	i := indexOf(list, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrApplicantNotFound, id)
	}

	list = slices.Delete(list, i, i+1)
	if err := r.store.Put(ctx, storage.CollectionApplicants, list); err != nil {
		return fmt.Errorf("save applicants: %w", err)
	}

	r.logger.Info("Deleted applicant", "id", id)
	return nil
}

func indexOf(list []Applicant, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(list, func(a Applicant) bool { return a.ID == id })
}

// SettingsRegistry manages the singleton settings document.
type SettingsRegistry struct {
	store  storage.DocumentStore
	logger *slog.Logger
}

// NewSettingsRegistry creates a registry over store.
func NewSettingsRegistry(store storage.DocumentStore, logger *slog.Logger) *SettingsRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsRegistry{store: store, logger: logger}
}

// Seed writes DefaultSettings if no settings document exists.
// A corrupt document is left untouched and reported.
func (r *SettingsRegistry) Seed(ctx context.Context) (bool, error) {
	var existing Settings
	err := r.store.Get(ctx, storage.CollectionSettings, &existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if err := r.store.Put(ctx, storage.CollectionSettings, DefaultSettings()); err != nil {
		return false, fmt.Errorf("seed settings: %w", err)
	}
	r.logger.Warn("Seeded default settings; change the admin password", "steps", len(DefaultVisaSteps))
	return true, nil
}

// Get returns the stored settings.
func (r *SettingsRegistry) Get(ctx context.Context) (Settings, error) {
	var s Settings
	if err := r.store.Get(ctx, storage.CollectionSettings, &s); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// Set replaces the whole settings document.
func (r *SettingsRegistry) Set(ctx context.Context, s Settings) (Settings, error) {
	s = s.clone()
	s.ID = SettingsID
	if s.VisaSteps == nil {
		s.VisaSteps = []string{}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	if err := r.store.Put(ctx, storage.CollectionSettings, s); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	r.logger.Info("Saved settings", "steps", len(s.VisaSteps))
	return s, nil
}
