package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/docverify/internal/document"
)

// DefaultRecordLimit bounds how many failure records a RecordStore keeps.
const DefaultRecordLimit = 10000

// RecordStore holds the failure records produced during the current process
// lifetime so they can be looked up and overridden by ID. Oldest records are
// dropped once the limit is reached.
type RecordStore struct {
	mu      sync.RWMutex
	limit   int
	records map[string]document.FailureRecord
	order   []string
}

// NewRecordStore constructs a RecordStore. A non-positive limit selects
// DefaultRecordLimit.
func NewRecordStore(limit int) *RecordStore {
	if limit <= 0 {
		limit = DefaultRecordLimit
	}
	return &RecordStore{
		limit:   limit,
		records: make(map[string]document.FailureRecord),
	}
}

// Save inserts or replaces rec. Records without an ID are rejected.
func (s *RecordStore) Save(_ context.Context, rec document.FailureRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	for len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
	return nil
}

// Get returns the record with id.
func (s *RecordStore) Get(_ context.Context, id string) (document.FailureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return document.FailureRecord{}, document.ErrNotFound
	}
	return rec, nil
}

// ListByURL returns records for url, newest first.
func (s *RecordStore) ListByURL(_ context.Context, url string) []document.FailureRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []document.FailureRecord
	for _, rec := range s.records {
		if rec.URL == url {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}
