// Package uploads stores uploaded documents as flat files and serves them back.
//
// Each upload gets a synthesized name of the form
// <field>-<unix-millis>-<random>.<original-extension>, which is unique in
// practice without any coordination. The store keeps no record of which
// applicant references which file; orphaned files are never collected.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// URLPrefix is the public path under which uploads are served.
const URLPrefix = "/uploads/"

// Upload errors.
var (
	// ErrNotFound is returned when an upload URL does not resolve to a stored file.
	ErrNotFound = errors.New("upload not found")

	// ErrNoFile is returned when a request carries no file to store.
	ErrNoFile = errors.New("no file uploaded")
)

// Upload describes a stored file.
type Upload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Store writes uploads into a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
	random func() int64
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, fmt.Errorf("uploads directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		random: func() int64 { return rand.Int64N(1_000_000_000) },
	}, nil
}

// Dir returns the uploads directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save streams src into a new file and returns its public URL.
// field is the form field the file arrived in; originalName only contributes its extension.
func (s *Store) Save(ctx context.Context, src io.Reader, field, originalName string) (Upload, error) {
	if src == nil {
		return Upload{}, ErrNoFile
	}
	if err := ctx.Err(); err != nil {
		return Upload{}, err
	}

	name := s.fileName(field, originalName)
	dst := filepath.Join(s.dir, name)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Upload{}, fmt.Errorf("create upload: %w", err)
	}

	n, err := io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			s.logger.Warn("Failed to remove partial upload", "file", name, "error", rmErr)
		}
		return Upload{}, fmt.Errorf("write upload: %w", err)
	}

	s.logger.Info("Stored upload", "file", name, "size", humanize.Bytes(uint64(n)))
	return Upload{Name: name, URL: URLPrefix + name, Size: n}, nil
}

// fileName builds <field>-<millis>-<random><ext>.
func (s *Store) fileName(field, originalName string) string {
	field = cleanField(field)
	return fmt.Sprintf("%s-%d-%d%s", field, s.now().UnixMilli(), s.random(), extension(originalName))
}

// Open resolves an upload URL to the stored file.
// The caller must close the returned file.
func (s *Store) Open(url string) (*os.File, os.FileInfo, error) {
	p, err := s.Resolve(url)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, url)
		}
		return nil, nil, fmt.Errorf("open upload: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("stat upload: %w", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return f, info, nil
}

// Resolve maps an upload URL to a path inside the uploads directory.
// Only the final path element is used, so a URL can never escape the directory.
func (s *Store) Resolve(url string) (string, error) {
	rest, ok := strings.CutPrefix(url, URLPrefix)
	if !ok {
		// Tolerate the relative form "uploads/<name>".
		rest, ok = strings.CutPrefix(url, strings.TrimPrefix(URLPrefix, "/"))
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	name := path.Base(rest)
	if name == "." || name == "/" || name == ".." || name == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return filepath.Join(s.dir, name), nil
}

// ServeHTTP serves GET /uploads/<file>.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, info, err := s.Open(r.URL.Path)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("Failed to open upload", "path", r.URL.Path, "error", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"File not found"}`+"\n")
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// extension returns the original extension, dropping anything that is not
// plain alphanumeric so a crafted name cannot smuggle separators.
func extension(originalName string) string {
	ext := filepath.Ext(filepath.Base(strings.ReplaceAll(originalName, `\`, "/")))
	if len(ext) < 2 {
		return ""
	}
	for _, r := range ext[1:] {
		if !isAlnum(r) {
			return ""
		}
	}
	return ext
}

// cleanField keeps the field name usable as a file name prefix.
func cleanField(field string) string {
	var b strings.Builder
	for _, r := range field {
		if isAlnum(r) || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "file"
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
