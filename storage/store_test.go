package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// stores returns one of each DocumentStore implementation.
func stores(t *testing.T) map[string]DocumentStore {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "data"), nil)
	require.NoError(t, err)
	return map[string]DocumentStore{
		"file":   fs,
		"memory": NewMemoryStore(),
	}
}

func TestCollectionValidate(t *testing.T) {
	tests := []struct {
		name    string
		c       Collection
		wantErr bool
	}{
		{"settings", CollectionSettings, false},
		{"applicants", CollectionApplicants, false},
		{"empty", "", true},
		{"path separator", "../etc", true},
		{"dot", "a.b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Validate()
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestDocumentStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var d doc
			err := s.Get(context.Background(), CollectionSettings, &d)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDocumentStore_PutGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			in := doc{Name: "a", Steps: []string{"one", "two"}}
			require.NoError(t, s.Put(ctx, CollectionSettings, in))

			var out doc
			require.NoError(t, s.Get(ctx, CollectionSettings, &out))
			assert.Equal(t, in, out)

			// A second put replaces the whole document.
			require.NoError(t, s.Put(ctx, CollectionSettings, doc{Name: "b"}))
			out = doc{}
			require.NoError(t, s.Get(ctx, CollectionSettings, &out))
			assert.Equal(t, doc{Name: "b"}, out)
		})
	}
}

func TestDocumentStore_ReplaceStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, CollectionSettings, doc{Name: "old"}))
	require.NoError(t, s.Put(ctx, CollectionApplicants, []doc{{Name: "old"}}))

	diskFull := errors.New("disk full")
	s.FailWrites(CollectionApplicants, diskFull)

	err := s.Replace(ctx,
		Entry{Collection: CollectionSettings, Value: doc{Name: "new"}},
		Entry{Collection: CollectionApplicants, Value: []doc{}},
	)
	require.ErrorIs(t, err, diskFull)
	assert.Contains(t, err.Error(), "replace applicants")

	// The first write is not rolled back.
	var settings doc
	require.NoError(t, s.Get(ctx, CollectionSettings, &settings))
	assert.Equal(t, "new", settings.Name)

	var applicants []doc
	require.NoError(t, s.Get(ctx, CollectionApplicants, &applicants))
	assert.Equal(t, []doc{{Name: "old"}}, applicants)

	s.FailWrites(CollectionApplicants, nil)
	assert.NoError(t, s.Put(ctx, CollectionApplicants, []doc{}))
}

func TestMemoryStore_Corrupt(t *testing.T) {
	s := NewMemoryStore()
	s.SetRaw(CollectionSettings, []byte(`{"name": `))

	var d doc
	err := s.Get(context.Background(), CollectionSettings, &d)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMemoryStore_NoAliasing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := doc{Steps: []string{"one"}}
	require.NoError(t, s.Put(ctx, CollectionSettings, in))

	in.Steps[0] = "changed"

	var out doc
	require.NoError(t, s.Get(ctx, CollectionSettings, &out))
	assert.Equal(t, []string{"one"}, out.Steps)
}

func TestFileStore_Layout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Put(context.Background(), CollectionApplicants, []doc{{Name: "x", Steps: []string{}}}))

	data, err := os.ReadFile(filepath.Join(dir, "applicants.json"))
	require.NoError(t, err)

	want := "[\n  {\n    \"name\": \"x\",\n    \"steps\": []\n  }\n]\n"
	assert.Equal(t, want, string(data))

	last, ok := s.LastWrite(CollectionApplicants)
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Minute)
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	// A truncated file, as left by a crash mid-write in older versions.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"VISA_STEPS": [`), 0644))

	var d map[string]any
	err = s.Get(context.Background(), CollectionSettings, &d)
	require.ErrorIs(t, err, ErrCorrupt)
	assert.True(t, strings.Contains(err.Error(), "settings"))
}

func TestNewFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore("", nil)
	assert.Error(t, err)
}
