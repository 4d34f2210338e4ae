// Package eventlog defines the append-only, idempotent event log contract
// from spec.md §4.1: the durable, authoritative record of every event a
// projection worker has observed.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
)

// PersistOutcome reports whether persist inserted a new row or found a
// duplicate event_id.
type PersistOutcome string

const (
	Inserted  PersistOutcome = "inserted"
	Duplicate PersistOutcome = "duplicate"
)

// QueryFilter narrows Query per spec.md §4.1.
type QueryFilter struct {
	Type   *envelope.Type
	After  *time.Time
	Before *time.Time
	Limit  int
	Offset int
}

// MaxLimit is the hard cap on Query's limit, per spec.md §6 (`limit≤200`).
const MaxLimit = 200

// Store is the event-log contract.
type Store interface {
	// Persist inserts envelope keyed by event_id. A conflict is not an
	// error: it returns Duplicate. Atomic with respect to a single
	// envelope.
	Persist(ctx context.Context, env envelope.Envelope) (PersistOutcome, error)

	// Query returns events for workspace matching filter, ascending by ts.
	// Negative offsets or an over-the-cap limit return a validation error;
	// callers are expected to clamp limit to MaxLimit before calling.
	Query(ctx context.Context, workspace string, filter QueryFilter) ([]envelope.Envelope, int, error)

	// GetWorkspaceEvents returns every event for workspace whose type is
	// in types (or every type, if types is empty) with ts > afterTS,
	// ascending, unpaginated. Used for replay.
	GetWorkspaceEvents(ctx context.Context, workspace string, types []envelope.Type, afterTS *time.Time) ([]envelope.Envelope, error)

	// CountReferences counts events in trace traceID for workspace with
	// ts >= since.
	CountReferences(ctx context.Context, workspace string, traceID uuid.UUID, since time.Time) (int, error)

	// HasEventTypeInTrace reports whether any event of typ exists in trace
	// traceID for workspace.
	HasEventTypeInTrace(ctx context.Context, workspace string, traceID uuid.UUID, typ envelope.Type) (bool, error)
}
