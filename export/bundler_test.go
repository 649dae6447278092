package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/visatrack/storage"
	"github.com/c360studio/visatrack/uploads"
	"github.com/c360studio/visatrack/visa"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store      *storage.MemoryStore
	applicants *visa.ApplicantRegistry
	settings   *visa.SettingsRegistry
	uploads    *uploads.Store
	bundler    *Bundler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	up, err := uploads.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	f := &fixture{
		store:      store,
		applicants: visa.NewApplicantRegistry(store, nil),
		settings:   visa.NewSettingsRegistry(store, nil),
		uploads:    up,
	}
	f.bundler = NewBundler(store, f.applicants, f.settings, up, nil)
	f.bundler.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

	_, err = f.settings.Seed(context.Background())
	require.NoError(t, err)
	_, err = f.applicants.Seed(context.Background())
	require.NoError(t, err)
	return f
}

func (f *fixture) create(t *testing.T, name string, docs visa.Documents, steps map[string]bool) visa.Applicant {
	t.Helper()
	a, err := f.applicants.Create(context.Background(), visa.ApplicantPatch{
		FullName:       &name,
		Documents:      &docs,
		StepsCompleted: steps,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) upload(t *testing.T, content, originalName string) uploads.Upload {
	t.Helper()
	u, err := f.uploads.Save(context.Background(), strings.NewReader(content), "file", originalName)
	require.NoError(t, err)
	return u
}

func TestSnapshot_FiltersAndKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "Alpha", nil, nil)
	f.create(t, "Bravo", nil, nil)
	c := f.create(t, "Charlie", nil, nil)

	all, err := f.bundler.Snapshot(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all.Applicants, 3)
	assert.Equal(t, c.ID, all.Applicants[0].ID)
	assert.Equal(t, visa.DefaultSettings(), all.Settings)

	// Request order does not matter; stored order wins.
	some, err := f.bundler.Snapshot(ctx, []string{a.ID, "unknown", c.ID})
	require.NoError(t, err)
	require.Len(t, some.Applicants, 2)
	assert.Equal(t, c.ID, some.Applicants[0].ID)
	assert.Equal(t, a.ID, some.Applicants[1].ID)
}

func TestBackupRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t)

	settings, err := src.settings.Get(ctx)
	require.NoError(t, err)
	settings.VisaSteps = []string{"Medical Test", "Application Submitted"}
	settings.Extra = map[string]json.RawMessage{"COMPANY": json.RawMessage(`"Acme"`)}
	_, err = src.settings.Set(ctx, settings)
	require.NoError(t, err)

	src.create(t, "Jane Doe", visa.Documents{{Name: "Passport", URL: "/uploads/file-1-2.pdf"}}, map[string]bool{"Medical Test": true})
	src.create(t, "John Roe", nil, nil)

	before, err := src.bundler.Snapshot(ctx, nil)
	require.NoError(t, err)
	data, err := json.MarshalIndent(before, "", "  ")
	require.NoError(t, err)

	dst := newFixture(t)
	dst.create(t, "Will be replaced", nil, nil)

	imported, err := dst.bundler.Import(ctx, data)
	require.NoError(t, err)
	assert.Len(t, imported.Applicants, 2)

	after, err := dst.bundler.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestParseSnapshot_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `garbage`},
		{"array", `[]`},
		{"null", `null`},
		{"missing settings", `{"applicants":[]}`},
		{"settings not object", `{"settings":"x","applicants":[]}`},
		{"settings null", `{"settings":null,"applicants":[]}`},
		{"missing applicants", `{"settings":{"ADMIN_PASSWORD":"x"}}`},
		{"applicants not array", `{"settings":{"ADMIN_PASSWORD":"x"},"applicants":"not-an-array"}`},
		{"applicants object", `{"settings":{"ADMIN_PASSWORD":"x"},"applicants":{}}`},
		{"applicant not object", `{"settings":{"ADMIN_PASSWORD":"x"},"applicants":[1]}`},
		{"applicant wrong field type", `{"settings":{"ADMIN_PASSWORD":"x"},"applicants":[{"FullName":7}]}`},
		{"steps wrong type", `{"settings":{"ADMIN_PASSWORD":"x","VISA_STEPS":"a"},"applicants":[]}`},
		{"settings without password", `{"settings":{"VISA_STEPS":["a"]},"applicants":[]}`},
		{"duplicate ids", `{"settings":{"ADMIN_PASSWORD":"x"},"applicants":[{"id":"a"},{"id":"a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.input))
			assert.ErrorIs(t, err, ErrInvalidBackup)
		})
	}
}

func TestParseSnapshot_AssignsMissingIDs(t *testing.T) {
	snap, err := ParseSnapshot([]byte(`{
		"settings": {"id": "settings", "VISA_STEPS": ["A"], "ADMIN_PASSWORD": "pw"},
		"applicants": [
			{"FullName": "No Id", "Documents": "[{\"name\":\"Photo\",\"url\":\"/uploads/p.jpg\"}]"},
			{"id": "keep", "FullName": "Has Id"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, snap.Applicants, 2)

	assert.NotEmpty(t, snap.Applicants[0].ID)
	assert.Equal(t, visa.Documents{{Name: "Photo", URL: "/uploads/p.jpg"}}, snap.Applicants[0].Documents)
	assert.Equal(t, "keep", snap.Applicants[1].ID)
	assert.Equal(t, visa.Documents{}, snap.Applicants[1].Documents)
	assert.Equal(t, map[string]bool{}, snap.Applicants[1].StepsCompleted)
}

func TestImport_InvalidLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.create(t, "Jane Doe", nil, nil)

	settingsBefore, _ := f.store.Raw(storage.CollectionSettings)
	applicantsBefore, _ := f.store.Raw(storage.CollectionApplicants)

	_, err := f.bundler.Import(ctx, []byte(`{"settings":{"ADMIN_PASSWORD":"x"},"applicants":"not-an-array"}`))
	require.ErrorIs(t, err, ErrInvalidBackup)

	settingsAfter, _ := f.store.Raw(storage.CollectionSettings)
	applicantsAfter, _ := f.store.Raw(storage.CollectionApplicants)
	assert.Equal(t, settingsBefore, settingsAfter)
	assert.Equal(t, applicantsBefore, applicantsAfter)
}

func TestImport_SecondWriteFailureKeepsFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	original := f.create(t, "Jane Doe", nil, nil)

	diskFull := errors.New("no space left on device")
	f.store.FailWrites(storage.CollectionApplicants, diskFull)

	_, err := f.bundler.Import(ctx, []byte(`{"settings":{"VISA_STEPS":["Only"],"ADMIN_PASSWORD":"new"},"applicants":[]}`))
	require.ErrorIs(t, err, diskFull)
	assert.NotErrorIs(t, err, ErrInvalidBackup)

	settings, err := f.settings.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Only"}, settings.VisaSteps, "settings write is not rolled back")

	list, err := f.applicants.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, original.ID, list[0].ID)
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files := make(map[string]string, len(zr.File))
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		files[zf.Name] = string(content)
	}
	return files
}

func TestWriteArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	passport := f.upload(t, "passport-bytes", "scan.PDF")
	photo := f.upload(t, "photo-bytes", "me.jpg")
	deleted := f.upload(t, "gone", "old.png")
	p, err := f.uploads.Resolve(deleted.URL)
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))

	jane := f.create(t, "Jane Doe", visa.Documents{
		{Name: "Passport Copy", URL: passport.URL},
		{Name: "Old Visa", URL: deleted.URL},
	}, map[string]bool{"Application Submitted": true})
	f.create(t, "", visa.Documents{{Name: "photo.jpg", URL: photo.URL}}, nil)

	var buf bytes.Buffer
	report, err := f.bundler.WriteArchive(ctx, &buf, nil)
	require.NoError(t, err, "a missing document must not fail the archive")

	assert.Equal(t, 2, report.Applicants)
	assert.Equal(t, 2, report.Documents)
	require.Len(t, report.Missing, 1)
	assert.Equal(t, jane.ID, report.Missing[0].ApplicantID)
	assert.Equal(t, "Old Visa", report.Missing[0].Name)
	assert.ErrorIs(t, report.Missing[0].Err, uploads.ErrNotFound)

	files := readArchive(t, buf.Bytes())
	assert.Equal(t, "passport-bytes", files["janedoe/Passport_Copy.PDF"])
	assert.NotContains(t, files, "janedoe/Old_Visa.png")

	summary, ok := files[SummaryFileName]
	require.True(t, ok)
	assert.Contains(t, summary, "Full Name: Jane Doe")
	assert.Contains(t, summary, "Awaiting Step: Entry Permit Issued")
	assert.Contains(t, summary, "Documents: 2")
	assert.Contains(t, summary, strings.Repeat("-", 40))

	// The nameless applicant falls back to an id-derived folder.
	var found bool
	for name, content := range files {
		if strings.HasSuffix(name, "/photo.jpg") && content == "photo-bytes" {
			found = true
			assert.NotEqual(t, "photo.jpg", name)
		}
	}
	assert.True(t, found, "expected photo under an id folder, got %v", files)
}

func TestWriteArchive_FilteredOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.create(t, "Alpha", nil, nil)
	f.create(t, "Bravo", nil, nil)
	c := f.create(t, "Charlie", nil, nil)

	var buf bytes.Buffer
	report, err := f.bundler.WriteArchive(ctx, &buf, []string{a.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applicants)

	summary := readArchive(t, buf.Bytes())[SummaryFileName]
	charlie := strings.Index(summary, "Full Name: Charlie")
	alpha := strings.Index(summary, "Full Name: Alpha")
	assert.Greater(t, charlie, -1)
	assert.Greater(t, alpha, charlie)
	assert.NotContains(t, summary, "Bravo")
}

func TestWriteArchive_CorruptStore(t *testing.T) {
	f := newFixture(t)
	f.store.SetRaw(storage.CollectionApplicants, []byte(`{`))

	var buf bytes.Buffer
	_, err := f.bundler.WriteArchive(context.Background(), &buf, nil)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
	assert.Zero(t, buf.Len(), "nothing is written before the snapshot loads")
}

func TestImport_KeepsUnknownApplicantKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	backup := `{
		"settings": {"id": "settings", "VISA_STEPS": ["Submitted", "Approved"], "ADMIN_PASSWORD": "pw"},
		"applicants": [{"id": "a1", "FullName": "Jane Doe", "Notes": "call back Monday", "CurrentStep": "Submitted"}]
	}`
	_, err := f.bundler.Import(ctx, []byte(backup))
	require.NoError(t, err)

	raw, ok := f.store.Raw(storage.CollectionApplicants)
	require.True(t, ok)
	var stored []map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "call back Monday", stored[0]["Notes"])
	assert.Equal(t, "Submitted", stored[0]["CurrentStep"])

	// A later backup carries them too.
	snap, err := f.bundler.Snapshot(ctx, nil)
	require.NoError(t, err)
	require.Len(t, snap.Applicants, 1)
	assert.JSONEq(t, `"call back Monday"`, string(snap.Applicants[0].Extra["Notes"]))
	assert.JSONEq(t, `"Submitted"`, string(snap.Applicants[0].Extra["CurrentStep"]))
}
