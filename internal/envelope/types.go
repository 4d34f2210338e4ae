// Package envelope defines the canonical event envelope: the immutable,
// schema-versioned shape every producer submits and every consumer of the
// backbone decodes.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the only schema version this service understands.
// Schema evolution beyond this is out of scope.
const SchemaVersion = 1

// Type is the closed set of event types the system accepts.
type Type string

const (
	TypeProposalCreated Type = "proposal.created"
	TypeDecisionRecorded Type = "decision.recorded"
	TypeRiskDetected    Type = "risk.detected"
	TypeFindingLogged   Type = "finding.logged"
	TypeTaskCreated     Type = "task.created"
	TypeTaskUpdated     Type = "task.updated"
	TypeMemoryCandidate Type = "memory.candidate"
	TypeMemoryPromoted  Type = "memory.promoted"
	TypeMemoryRetracted Type = "memory.retracted"
)

var validTypes = map[Type]struct{}{
	TypeProposalCreated:  {},
	TypeDecisionRecorded: {},
	TypeRiskDetected:     {},
	TypeFindingLogged:    {},
	TypeTaskCreated:      {},
	TypeTaskUpdated:      {},
	TypeMemoryCandidate:  {},
	TypeMemoryPromoted:   {},
	TypeMemoryRetracted:  {},
}

// Valid reports whether t belongs to the closed type set.
func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// Severity is the closed set of severities an event may carry.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var validSeverities = map[Severity]struct{}{
	SeverityLow:    {},
	SeverityMedium: {},
	SeverityHigh:   {},
}

// Valid reports whether s belongs to the closed severity set.
func (s Severity) Valid() bool {
	_, ok := validSeverities[s]
	return ok
}

// Envelope is the canonical, immutable in-memory shape of an event. Build
// one with New, never by struct literal from outside the package, so that
// construction-time validation can't be bypassed.
type Envelope struct {
	EventID        uuid.UUID
	SchemaVersion  int
	TS             time.Time
	WorkspaceID    string
	SatelliteID    string
	TraceID        uuid.UUID
	Type           Type
	Severity       Severity
	Confidence     float64
	Payload        map[string]any
}

// SyntheticSatellite is the satellite_id sentinel used for envelopes the
// projection worker itself emits (auto-promotion), per spec §4.7.
const SyntheticSatellite = "workspace-memory.projection-engine"
