package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InsertOutcome reports whether create_entry inserted a new row or found an
// existing one for the same source_event_id (idempotent insert, spec.md §3).
type InsertOutcome string

const (
	Inserted InsertOutcome = "inserted"
	Duplicate InsertOutcome = "duplicate"
)

// UpdateOutcome reports the result of update_status.
type UpdateOutcome string

const (
	Updated  UpdateOutcome = "updated"
	NotFound UpdateOutcome = "not_found"
)

// GetEntriesFilter narrows get_entries per spec.md §4.2. A nil Bucket means
// "no filter on bucket"; a nil Status means Promoted (see Store.GetEntries
// doc), so every call filters on exactly one status.
type GetEntriesFilter struct {
	Bucket         *Bucket
	Status         *Status
	IncludeExpired bool
}

// Store is the memory-store contract from spec.md §4.2.
type Store interface {
	// CreateEntry inserts entry, or reports Duplicate if source_event_id
	// already exists. Idempotent.
	CreateEntry(ctx context.Context, entry Entry) (InsertOutcome, error)

	// UpdateStatus transitions entry_id to newStatus, stamping the
	// corresponding terminal timestamp with ts. Accepts transitions from
	// any current status, per spec.md §4.2: "the event log is the source
	// of truth; the last applied terminal state wins when replaying in
	// order".
	UpdateStatus(ctx context.Context, entryID uuid.UUID, newStatus Status, ts time.Time) (UpdateOutcome, error)

	// GetEntries lists entries for workspace matching filter. When
	// filter.Status is nil the default is Promoted, per spec.md §4.2.
	// Unless IncludeExpired, rows whose expires_at <= now are excluded.
	GetEntries(ctx context.Context, workspace string, filter GetEntriesFilter) ([]Entry, error)

	// DeleteWorkspaceEntries removes every entry for workspace. Used only
	// by replay.
	DeleteWorkspaceEntries(ctx context.Context, workspace string) (int, error)

	// GetCursor returns the current projection cursor, or the zero Cursor
	// if none has been recorded yet.
	GetCursor(ctx context.Context) (Cursor, bool, error)

	// UpdateCursor advances the projection cursor.
	UpdateCursor(ctx context.Context, cursor Cursor) error
}

// Cursor is the process-wide projection cursor from spec.md §3. It is an
// operational-observability record, not a correctness mechanism: ordering
// and idempotency come from the backbone offset and per-event_id uniqueness.
type Cursor struct {
	LastEventID uuid.UUID
	LastEventTS time.Time
	UpdatedAt   time.Time
}
