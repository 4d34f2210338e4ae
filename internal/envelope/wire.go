package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// wireEnvelope is the JSON-on-the-wire shape. Field names match spec.md §3
// exactly (snake_case) since producers outside this module (agents, tools,
// UIs) speak this shape directly.
type wireEnvelope struct {
	EventID       uuid.UUID      `json:"event_id"`
	SchemaVersion int            `json:"schema_version"`
	TS            time.Time      `json:"ts"`
	WorkspaceID   string         `json:"workspace_id"`
	SatelliteID   string         `json:"satellite_id"`
	TraceID       uuid.UUID      `json:"trace_id"`
	Type          Type           `json:"type"`
	Severity      Severity       `json:"severity"`
	Confidence    float64        `json:"confidence"`
	Payload       map[string]any `json:"payload"`
}

// ToWire serialises an envelope to canonical JSON. Canonical here means:
// map keys sorted (Go's encoding/json already sorts map[string]any keys on
// marshal) and no extraneous whitespace (json.Marshal's default form has
// none) — see SPEC_FULL.md §3.
func (e Envelope) ToWire() ([]byte, error) {
	w := wireEnvelope{
		EventID:       e.EventID,
		SchemaVersion: e.SchemaVersion,
		TS:            e.TS.UTC(),
		WorkspaceID:   e.WorkspaceID,
		SatelliteID:   e.SatelliteID,
		TraceID:       e.TraceID,
		Type:          e.Type,
		Severity:      e.Severity,
		Confidence:    e.Confidence,
		Payload:       e.Payload,
	}
	return json.Marshal(w)
}

// FromWire deserialises and re-validates an envelope, per the spec's
// "deserialisation must re-validate" invariant. Offset-aware timestamps are
// converted to UTC. A ts without an explicit offset is not accepted:
// encoding/json's RFC3339 parsing fails on it and FromWire returns a
// validation error. ToWire always emits the Z suffix.
func FromWire(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, wsmerr.NewValidation("envelope.from_wire", "", "", "malformed envelope JSON: "+err.Error())
	}
	e := Envelope{
		EventID:       w.EventID,
		SchemaVersion: w.SchemaVersion,
		TS:            w.TS.UTC(),
		WorkspaceID:   w.WorkspaceID,
		SatelliteID:   w.SatelliteID,
		TraceID:       w.TraceID,
		Type:          w.Type,
		Severity:      w.Severity,
		Confidence:    w.Confidence,
		Payload:       w.Payload,
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// MarshalJSON renders an Envelope in its wire shape, so any code that
// embeds an Envelope in a larger JSON response (e.g. internal/httpapi's
// event-listing response) gets the same snake_case field names ToWire
// produces, without having to call ToWire explicitly.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return e.ToWire()
}

// UnmarshalJSON parses the wire shape and re-validates, delegating to
// FromWire.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	parsed, err := FromWire(data)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// CanonicalJSON renders an arbitrary value (typically a memory entry's
// value map) as canonical JSON: sorted keys, minimal separators. Used by
// the context-pack relevance scorer so that equal-as-maps values always
// produce byte-identical strings.
func CanonicalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
