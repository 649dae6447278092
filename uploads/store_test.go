package uploads

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"), nil)
	require.NoError(t, err)
	return s
}

func TestStore_SaveNaming(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }
	s.random = func() int64 { return 42 }

	up, err := s.Save(context.Background(), strings.NewReader("%PDF-1.7"), "file", "Passport Scan.PDF")
	require.NoError(t, err)

	assert.Equal(t, "file-1700000000123-42.PDF", up.Name)
	assert.Equal(t, "/uploads/file-1700000000123-42.PDF", up.URL)
	assert.Equal(t, int64(8), up.Size)

	data, err := os.ReadFile(filepath.Join(s.Dir(), up.Name))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestStore_SaveGeneratedNamesAreDistinct(t *testing.T) {
	s := newTestStore(t)
	pattern := regexp.MustCompile(`^file-\d+-\d+\.jpg$`)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		up, err := s.Save(context.Background(), strings.NewReader("x"), "file", "photo.jpg")
		require.NoError(t, err)
		assert.Regexp(t, pattern, up.Name)
		assert.False(t, seen[up.Name], "duplicate name %s", up.Name)
		seen[up.Name] = true
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"scan.pdf", ".pdf"},
		{"archive.tar.gz", ".gz"},
		{"noext", ""},
		{"dir/evil.pdf", ".pdf"},
		{`C:\Users\me\visa.png`, ".png"},
		{"weird.p/df", ""},
		{"trailingdot.", ""},
		{"bad.ext!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extension(tt.name))
		})
	}
}

func TestStore_SaveRemovesPartialFile(t *testing.T) {
	s := newTestStore(t)
	broken := io.MultiReader(strings.NewReader("partial"), errReader{errors.New("connection reset")})

	_, err := s.Save(context.Background(), broken, "file", "a.pdf")
	require.Error(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Resolve(t *testing.T) {
	s := newTestStore(t)

	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"/uploads/file-1-2.pdf", filepath.Join(s.Dir(), "file-1-2.pdf"), false},
		{"uploads/file-1-2.pdf", filepath.Join(s.Dir(), "file-1-2.pdf"), false},
		{"/uploads/../../etc/passwd", filepath.Join(s.Dir(), "passwd"), false},
		{"/uploads/", "", true},
		{"/static/file.pdf", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := s.Resolve(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_OpenMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Open("/uploads/file-1-2.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ServeHTTP(t *testing.T) {
	s := newTestStore(t)
	up, err := s.Save(context.Background(), strings.NewReader("hello"), "file", "note.txt")
	require.NoError(t, err)

	t.Run("existing file", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, up.URL, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "hello", rec.Body.String())
	})

	t.Run("missing file", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/nope.txt", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"File not found"}`, rec.Body.String())
	})

	t.Run("directory is not listed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, up.URL, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
