// Package memstore is an in-process reference implementation of
// memory.Store, used by unit tests and by local/dev wiring that runs
// without a database — grounded on the teacher's own in-process test
// fixtures (pkg/dcb/test_globals.go, test_setup.go).
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/memory"
)

// Store is a mutex-guarded in-memory memory.Store.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]memory.Entry // by entry_id
	bySrc   map[uuid.UUID]uuid.UUID    // source_event_id -> entry_id
	cursor  memory.Cursor
	hasCursor bool
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		entries: make(map[uuid.UUID]memory.Entry),
		bySrc:   make(map[uuid.UUID]uuid.UUID),
	}
}

var _ memory.Store = (*Store)(nil)

func (s *Store) CreateEntry(_ context.Context, entry memory.Entry) (memory.InsertOutcome, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySrc[entry.SourceEventID]; ok {
		return memory.Duplicate, nil
	}
	s.entries[entry.EntryID] = entry
	s.bySrc[entry.SourceEventID] = entry.EntryID
	return memory.Inserted, nil
}

func (s *Store) UpdateStatus(_ context.Context, entryID uuid.UUID, newStatus memory.Status, ts time.Time) (memory.UpdateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return memory.NotFound, nil
	}
	e.Status = newStatus
	e.UpdatedAt = ts
	switch newStatus {
	case memory.StatusPromoted:
		t := ts
		e.PromotedAt = &t
	case memory.StatusRetracted:
		t := ts
		e.RetractedAt = &t
	}
	s.entries[entryID] = e
	return memory.Updated, nil
}

func (s *Store) GetEntries(_ context.Context, workspace string, filter memory.GetEntriesFilter) ([]memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := memory.StatusPromoted
	if filter.Status != nil {
		status = *filter.Status
	}
	now := time.Now().UTC()

	var out []memory.Entry
	for _, e := range s.entries {
		if e.WorkspaceID != workspace {
			continue
		}
		if filter.Status == nil {
			if e.Status != status {
				continue
			}
		} else if e.Status != *filter.Status {
			continue
		}
		if filter.Bucket != nil && e.Bucket != *filter.Bucket {
			continue
		}
		if !filter.IncludeExpired && e.Expired(now) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) DeleteWorkspaceEntries(_ context.Context, workspace string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if e.WorkspaceID == workspace {
			delete(s.entries, id)
			delete(s.bySrc, e.SourceEventID)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetCursor(_ context.Context) (memory.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor, nil
}

func (s *Store) UpdateCursor(_ context.Context, cursor memory.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	s.hasCursor = true
	return nil
}
