package envelope

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// New constructs and validates an Envelope. A fresh EventID and TS are
// assigned unless the caller already set them via the With* options; this
// mirrors the teacher's constructor-validates style (pkg/dcb/constructors.go)
// rather than letting zero-value structs slip past validation.
func New(workspaceID, satelliteID string, traceID uuid.UUID, typ Type, severity Severity, confidence float64, payload map[string]any, opts ...Option) (Envelope, error) {
	e := Envelope{
		EventID:       uuid.New(),
		SchemaVersion: SchemaVersion,
		TS:            time.Now().UTC(),
		WorkspaceID:   workspaceID,
		SatelliteID:   satelliteID,
		TraceID:       traceID,
		Type:          typ,
		Severity:      severity,
		Confidence:    confidence,
		Payload:       payload,
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.TS = e.TS.UTC()
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Option customises envelope construction, used so callers (tests, the
// HTTP ingest handler, the auto-promotion sweep) can fix EventID/TS
// deterministically.
type Option func(*Envelope)

// WithEventID overrides the generated event_id.
func WithEventID(id uuid.UUID) Option {
	return func(e *Envelope) { e.EventID = id }
}

// WithTimestamp overrides the generated ts. Naive (non-UTC) values are
// normalised to UTC by New, matching the "naive timestamps are interpreted
// as UTC" invariant in spec.md §3.
func WithTimestamp(ts time.Time) Option {
	return func(e *Envelope) { e.TS = ts }
}

// Validate re-checks every envelope invariant. Called both at construction
// and on deserialisation, per spec.md §3: "deserialisation must re-validate".
func (e Envelope) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return wsmerr.NewValidation("envelope.validate", "schema_version", fmt.Sprintf("%d", e.SchemaVersion), "unsupported schema version")
	}
	if e.EventID == uuid.Nil {
		return wsmerr.NewValidation("envelope.validate", "event_id", "", "event_id must not be nil")
	}
	if e.WorkspaceID == "" {
		return wsmerr.NewValidation("envelope.validate", "workspace_id", "", "workspace_id must not be empty")
	}
	if e.SatelliteID == "" {
		return wsmerr.NewValidation("envelope.validate", "satellite_id", "", "satellite_id must not be empty")
	}
	if e.TraceID == uuid.Nil {
		return wsmerr.NewValidation("envelope.validate", "trace_id", "", "trace_id must not be nil")
	}
	if !e.Type.Valid() {
		return wsmerr.NewValidation("envelope.validate", "type", string(e.Type), "type is not in the closed event type set")
	}
	if !e.Severity.Valid() {
		return wsmerr.NewValidation("envelope.validate", "severity", string(e.Severity), "severity must be low, medium or high")
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return wsmerr.NewValidation("envelope.validate", "confidence", fmt.Sprintf("%v", e.Confidence), "confidence must be within [0,1]")
	}
	if e.TS.IsZero() {
		return wsmerr.NewValidation("envelope.validate", "ts", "", "ts must not be zero")
	}
	return nil
}
