package storage

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"
)

// FileStore keeps each collection in <dir>/<collection>.json.
//
// Documents are written pretty-printed with a two-space indent. Every write
// goes to a temporary file that is renamed over the target, so a crash
// leaves either the previous or the new document on disk, never a torn one.
type FileStore struct {
	dir    string
	logger *slog.Logger

	locksMu sync.Mutex
	locks   map[Collection]*sync.RWMutex

	writesMu sync.Mutex
	writes   map[Collection]writeRecord
}

// writeRecord remembers what this process last wrote to a collection.
type writeRecord struct {
	at  time.Time
	sum [sha256.Size]byte
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		logger: logger,
		locks:  make(map[Collection]*sync.RWMutex),
		writes: make(map[Collection]writeRecord),
	}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file backing a collection.
func (s *FileStore) Path(c Collection) string {
	return filepath.Join(s.dir, string(c)+".json")
}

// lockFor returns the mutex guarding a single collection file.
func (s *FileStore) lockFor(c Collection) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks[c] == nil {
		s.locks[c] = &sync.RWMutex{}
	}
	return s.locks[c]
}

// Get reads and decodes a collection.
func (s *FileStore) Get(_ context.Context, c Collection, dst any) error {
	if err := c.Validate(); err != nil {
		return err
	}

	mu := s.lockFor(c)
	mu.RLock()
	data, err := os.ReadFile(s.Path(c))
	mu.RUnlock()

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, c)
		}
		return fmt.Errorf("read %s: %w", c, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, c, err)
	}
	return nil
}

// Put encodes and writes a collection, replacing the previous document.
func (s *FileStore) Put(_ context.Context, c Collection, src any) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", c, err)
	}
	data = append(data, '\n')

	mu := s.lockFor(c)
	mu.Lock()
	defer mu.Unlock()

	if err := renameio.WriteFile(s.Path(c), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", c, err)
	}
	s.writesMu.Lock()
	s.writes[c] = writeRecord{at: time.Now(), sum: sha256.Sum256(data)}
	s.writesMu.Unlock()

	s.logger.Debug("Wrote collection", "collection", c, "bytes", len(data))
	return nil
}

// LastWrite reports when this process last wrote c.
func (s *FileStore) LastWrite(c Collection) (time.Time, bool) {
	s.writesMu.Lock()
	defer s.writesMu.Unlock()
	rec, ok := s.writes[c]
	return rec.at, ok
}

// holdsOwnWrite reports whether the file for c still contains exactly what
// this process last wrote to it.
func (s *FileStore) holdsOwnWrite(c Collection) bool {
	s.writesMu.Lock()
	rec, ok := s.writes[c]
	s.writesMu.Unlock()
	if !ok {
		return false
	}
	data, err := os.ReadFile(s.Path(c))
	if err != nil {
		return false
	}
	return sha256.Sum256(data) == rec.sum
}

// Replace writes each entry in order.
func (s *FileStore) Replace(ctx context.Context, entries ...Entry) error {
	return replaceAll(ctx, s, entries)
}
