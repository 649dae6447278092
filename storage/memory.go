package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process DocumentStore.
// Values are kept in encoded form so callers never share memory with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[Collection][]byte
	writeFails map[Collection]error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:       make(map[Collection][]byte),
		writeFails: make(map[Collection]error),
	}
}

// Get decodes a stored collection into dst.
func (s *MemoryStore) Get(_ context.Context, c Collection, dst any) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	data, ok := s.docs[c]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, c, err)
	}
	return nil
}

// Put encodes src and stores it under c.
func (s *MemoryStore) Put(_ context.Context, c Collection, src any) error {
	if err := c.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", c, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeFails[c]; err != nil {
		return fmt.Errorf("write %s: %w", c, err)
	}
	s.docs[c] = data
	return nil
}

// Replace writes each entry in order.
func (s *MemoryStore) Replace(ctx context.Context, entries ...Entry) error {
	return replaceAll(ctx, s, entries)
}

// SetRaw stores raw bytes for a collection without validation.
// Tests use it to simulate hand-edited or corrupt documents.
func (s *MemoryStore) SetRaw(c Collection, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[c] = append([]byte(nil), data...)
}

// Raw returns the stored bytes for a collection.
func (s *MemoryStore) Raw(c Collection) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[c]
	return append([]byte(nil), data...), ok
}

// FailWrites makes every subsequent Put to c fail with err.
// Passing a nil error clears the failure.
func (s *MemoryStore) FailWrites(c Collection, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeFails, c)
		return
	}
	s.writeFails[c] = err
}
