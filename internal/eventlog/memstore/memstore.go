// Package memstore is an in-process reference implementation of
// eventlog.Store, grounded on the teacher's own in-process test fixtures
// (pkg/dcb/test_globals.go, test_setup.go).
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// Store is a mutex-guarded in-memory eventlog.Store.
type Store struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]envelope.Envelope
	order  []uuid.UUID // insertion order, re-sorted by ts on read
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: make(map[uuid.UUID]envelope.Envelope)}
}

var _ eventlog.Store = (*Store)(nil)

func (s *Store) Persist(_ context.Context, env envelope.Envelope) (eventlog.PersistOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[env.EventID]; ok {
		return eventlog.Duplicate, nil
	}
	s.byID[env.EventID] = env
	s.order = append(s.order, env.EventID)
	return eventlog.Inserted, nil
}

func (s *Store) all(workspace string) []envelope.Envelope {
	out := make([]envelope.Envelope, 0, len(s.order))
	for _, id := range s.order {
		e := s.byID[id]
		if e.WorkspaceID == workspace {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func (s *Store) Query(_ context.Context, workspace string, filter eventlog.QueryFilter) ([]envelope.Envelope, int, error) {
	if filter.Offset < 0 {
		return nil, 0, wsmerr.NewValidation("eventlog.query", "offset", "", "offset must be >= 0")
	}
	if filter.Limit > eventlog.MaxLimit {
		return nil, 0, wsmerr.NewValidation("eventlog.query", "limit", "", "limit exceeds maximum")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]envelope.Envelope, 0)
	for _, e := range s.all(workspace) {
		if filter.Type != nil && e.Type != *filter.Type {
			continue
		}
		if filter.After != nil && !e.TS.After(*filter.After) {
			continue
		}
		if filter.Before != nil && !e.TS.Before(*filter.Before) {
			continue
		}
		matched = append(matched, e)
	}

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 || limit > eventlog.MaxLimit {
		limit = eventlog.MaxLimit
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) GetWorkspaceEvents(_ context.Context, workspace string, types []envelope.Type, afterTS *time.Time) ([]envelope.Envelope, error) {
	typeSet := make(map[envelope.Type]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]envelope.Envelope, 0)
	for _, e := range s.all(workspace) {
		if len(typeSet) > 0 {
			if _, ok := typeSet[e.Type]; !ok {
				continue
			}
		}
		if afterTS != nil && !e.TS.After(*afterTS) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) CountReferences(_ context.Context, workspace string, traceID uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.all(workspace) {
		if e.TraceID == traceID && !e.TS.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) HasEventTypeInTrace(_ context.Context, workspace string, traceID uuid.UUID, typ envelope.Type) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.all(workspace) {
		if e.TraceID == traceID && e.Type == typ {
			return true, nil
		}
	}
	return false, nil
}
