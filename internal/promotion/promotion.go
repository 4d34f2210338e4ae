// Package promotion implements the auto-promotion eligibility rule from
// spec.md §4.6: a pure, side-effect-free predicate over a candidate entry
// and the reference history of the trace currently being processed.
package promotion

import (
	"time"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/memory"
)

// MinConfidence is the confidence floor below which an entry is never
// eligible, regardless of reference count or trace contents.
const MinConfidence = 0.75

// MinReferences is the reference-count threshold for the "references"
// branch of eligibility.
const MinReferences = 2

// ReferenceWindow is how far back count_references looks, anchored at the
// entry's created_at — preserved even though "since creation" might read
// more naturally, per spec.md §9's Open Question resolution.
const ReferenceWindow = 7 * 24 * time.Hour

// ReferenceCounter counts events sharing traceID since a timestamp, for a
// workspace. Implemented by eventlog.Store.CountReferences.
type ReferenceCounter func(workspace string, traceID uuid.UUID, since time.Time) (int, error)

// TraceTypeChecker reports whether traceID contains a "decision.recorded"
// event. Implemented by eventlog.Store.HasEventTypeInTrace.
type TraceTypeChecker func(workspace string, traceID uuid.UUID) (bool, error)

// Eligible evaluates the short-circuit chain in spec.md §4.6: status ->
// confidence -> reference count -> decision-in-trace, against traceID (the
// trace_id of the envelope currently being processed by the auto-promotion
// sweep, per spec.md §4.5 step 4 — not necessarily the entry's own trace).
// countReferences and hasDecisionInTrace are only invoked when reached, so
// an earlier branch deciding the outcome skips the later store round-trips.
func Eligible(entry memory.Entry, traceID uuid.UUID, countReferences ReferenceCounter, hasDecisionInTrace TraceTypeChecker) (bool, error) {
	if entry.Status != memory.StatusCandidate {
		return false, nil
	}
	if entry.Confidence < MinConfidence {
		return false, nil
	}

	since := entry.CreatedAt.Add(-ReferenceWindow)
	count, err := countReferences(entry.WorkspaceID, traceID, since)
	if err != nil {
		return false, err
	}
	if count >= MinReferences {
		return true, nil
	}

	return hasDecisionInTrace(entry.WorkspaceID, traceID)
}
