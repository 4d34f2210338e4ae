// Package memory defines the materialised memory entry and the Store
// interface consumed by the projection engine, replay and the context-pack
// assembler.
package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// Bucket is the closed set of memory entry scopes.
type Bucket string

const (
	BucketGlobal    Bucket = "global"
	BucketWorkspace Bucket = "workspace"
	BucketEphemeral Bucket = "ephemeral"
)

// Status is the entry lifecycle state. Represented as a dedicated type —
// not a free-form string — per the Design Note "state-machine
// representation" in spec.md §9: terminal timestamps are co-located with
// their status.
type Status string

const (
	StatusCandidate Status = "candidate"
	StatusPromoted  Status = "promoted"
	StatusRetracted Status = "retracted"
)

// Entry is a materialised memory entry.
type Entry struct {
	EntryID       uuid.UUID      `json:"entry_id"`
	WorkspaceID   string         `json:"workspace_id"`
	Bucket        Bucket         `json:"bucket"`
	Key           string         `json:"key"`
	Value         map[string]any `json:"value"`
	Status        Status         `json:"status"`
	Confidence    float64        `json:"confidence"`
	SourceEventID uuid.UUID      `json:"source_event_id"`
	PromotedAt    *time.Time     `json:"promoted_at,omitempty"`
	RetractedAt   *time.Time     `json:"retracted_at,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Validate enforces the invariants in spec.md §3's memory entry table.
func (e Entry) Validate() error {
	if e.WorkspaceID == "" {
		return wsmerr.NewValidation("entry.validate", "workspace_id", "", "workspace_id must not be empty")
	}
	if e.Key == "" {
		return wsmerr.NewValidation("entry.validate", "key", "", "key must not be empty")
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return wsmerr.NewValidation("entry.validate", "confidence", "", "confidence must be within [0,1]")
	}
	if e.SourceEventID == uuid.Nil {
		return wsmerr.NewValidation("entry.validate", "source_event_id", "", "source_event_id must not be nil")
	}
	if (e.Bucket == BucketEphemeral) != (e.ExpiresAt != nil) {
		return wsmerr.NewValidation("entry.validate", "expires_at", "", "bucket=ephemeral iff expires_at is set")
	}
	if e.Status == StatusPromoted && e.PromotedAt == nil {
		return wsmerr.NewValidation("entry.validate", "promoted_at", "", "status=promoted requires promoted_at")
	}
	if e.Status == StatusRetracted && e.RetractedAt == nil {
		return wsmerr.NewValidation("entry.validate", "retracted_at", "", "status=retracted requires retracted_at")
	}
	return nil
}

// Expired reports whether the entry's TTL (if any) has elapsed as of now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}
