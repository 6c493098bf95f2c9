// Package memory keeps cache entries and failure records in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/document"
)

var _ cache.Backend = (*BlobStore)(nil)

// BlobStore is a map-backed cache backend. Payloads are copied on the way
// in and out so callers cannot mutate stored bytes.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]document.CachedBlob
}

// NewBlobStore creates an empty in-memory backend.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]document.CachedBlob)}
}

// Get returns a copy of the stored blob.
func (s *BlobStore) Get(_ context.Context, key string) (document.CachedBlob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return document.CachedBlob{}, document.ErrNotFound
	}
	blob.Bytes = append([]byte(nil), blob.Bytes...)
	return blob, nil
}

// Put stores a copy of blob, replacing any previous entry.
func (s *BlobStore) Put(_ context.Context, blob document.CachedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob.Bytes = append([]byte(nil), blob.Bytes...)
	s.blobs[blob.Key] = blob
	return nil
}

// Touch updates the last-access time of key.
func (s *BlobStore) Touch(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[key]
	if !ok {
		return document.ErrNotFound
	}
	blob.LastAccessedAt = at
	s.blobs[key] = blob
	return nil
}

// Delete removes key.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return document.ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}

// List returns metadata for every stored blob.
func (s *BlobStore) List(_ context.Context) ([]document.BlobMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]document.BlobMeta, 0, len(s.blobs))
	for _, blob := range s.blobs {
		out = append(out, blob.Meta())
	}
	return out, nil
}
