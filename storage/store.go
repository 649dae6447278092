// Package storage provides the JSON document store behind visatrack.
//
// A store holds a small, fixed set of named collections. Each collection is a
// single JSON document that is read and written as a whole: there is no
// partial patching, no append log and no versioning. Callers that perform
// read-modify-write sequences must accept that concurrent writers race and
// the last write wins.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Collection names a stored JSON document.
type Collection string

// Collections used by visatrack.
const (
	CollectionSettings   Collection = "settings"
	CollectionApplicants Collection = "applicants"
)

// Validate checks that the collection name can be used as a file name.
func (c Collection) Validate() error {
	if c == "" {
		return fmt.Errorf("collection name is required")
	}
	if strings.ContainsAny(string(c), `/\.`) {
		return fmt.Errorf("invalid collection name: %q", c)
	}
	return nil
}

// Entry pairs a collection with the value to store in it.
type Entry struct {
	Collection Collection
	Value      any
}

// DocumentStore reads and writes whole collections.
//
// Get decodes the stored document into dst and fails with ErrNotFound when
// the collection was never written or ErrCorrupt when it cannot be decoded.
// Put replaces the stored document. Replace writes several collections in
// order and stops at the first failure; writes that already succeeded are
// not rolled back.
type DocumentStore interface {
	Get(ctx context.Context, c Collection, dst any) error
	Put(ctx context.Context, c Collection, src any) error
	Replace(ctx context.Context, entries ...Entry) error
}

// replaceAll is the shared Replace implementation.
func replaceAll(ctx context.Context, s DocumentStore, entries []Entry) error {
	for _, e := range entries {
		if err := s.Put(ctx, e.Collection, e.Value); err != nil {
			return fmt.Errorf("replace %s: %w", e.Collection, err)
		}
	}
	return nil
}
