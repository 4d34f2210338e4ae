// Package projection implements the long-running consumer loop from
// spec.md §4.5: decode, persist, project, sweep for auto-promotion, advance
// the cursor. Each step's transient-error handling follows the teacher's
// "only advance past work that is durably committed" discipline from its
// transactional store writers.
package projection

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawderpunk/workspace-memory/internal/backbone"
	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/memory"
	"github.com/clawderpunk/workspace-memory/internal/promotion"
	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// DefaultTTL is the fallback ephemeral-entry lifetime when a
// memory.candidate payload omits ttl_hours.
const DefaultTTL = 24 * time.Hour

// BatchSize bounds how many messages a single Poll call asks for.
const BatchSize = 64

// Worker drives the consumer loop; each RunOnce call handles one
// workspace's stream.
type Worker struct {
	Events     eventlog.Store
	Memory     memory.Store
	Consumer   backbone.Consumer
	Producer   backbone.Producer
	Logger     *zap.Logger
	Malformed  Counter // optional; nil is safe
	Promotions Counter // optional; nil is safe
}

// Counter is a minimal monotonic counter, satisfied by httpapi's metrics
// registry without projection depending on the httpapi package.
type Counter interface {
	Inc()
}

// RunOnce polls up to BatchSize messages for workspace and processes each in
// order, returning after the batch is exhausted. Callers loop this from a
// long-running goroutine (see cmd/wsmemoryd).
func (w *Worker) RunOnce(ctx context.Context, workspace string) error {
	msgs, err := w.Consumer.Poll(ctx, workspace, BatchSize)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := w.process(ctx, workspace, m); err != nil {
			if wsmerr.IsTransient(err) {
				w.Logger.Warn("projection: transient error, offset not committed",
					zap.String("workspace", workspace), zap.Error(err))
				continue
			}
			return err
		}
	}
	return nil
}

func (w *Worker) process(ctx context.Context, workspace string, m backbone.Message) error {
	// Step 1: decode. A zero Envelope (EventID == uuid.Nil) signals the
	// backbone handed back an undecodable payload.
	if m.Envelope.EventID == uuid.Nil {
		w.logMalformed(workspace, "undecodable backbone payload")
		return w.Consumer.Ack(ctx, workspace, m.AckID)
	}
	if err := m.Envelope.Validate(); err != nil {
		w.logMalformed(workspace, err.Error())
		return w.Consumer.Ack(ctx, workspace, m.AckID)
	}

	// Step 2: persist.
	outcome, err := w.Events.Persist(ctx, m.Envelope)
	if err != nil {
		return err // transient: caller leaves it unacked
	}
	_ = outcome // inserted or duplicate both proceed to projection, per §9

	// Step 3: project.
	if err := w.project(ctx, m.Envelope); err != nil {
		return err
	}

	// Step 4: auto-promotion sweep.
	if err := w.sweep(ctx, m.Envelope); err != nil {
		return err
	}

	// Step 5: advance cursor, commit offset.
	if err := w.Memory.UpdateCursor(ctx, memory.Cursor{
		LastEventID: m.Envelope.EventID,
		LastEventTS: m.Envelope.TS,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		return err
	}
	return w.Consumer.Ack(ctx, workspace, m.AckID)
}

func (w *Worker) logMalformed(workspace, reason string) {
	if w.Malformed != nil {
		w.Malformed.Inc()
	}
	w.Logger.Warn("projection: malformed message dropped",
		zap.String("workspace", workspace), zap.String("reason", reason))
}

// project applies the memory-bearing event types. Other event types
// (proposal.created, risk.detected, finding.logged, task.created/updated)
// carry no entry-construction side effect of their own; they still flow
// through the auto-promotion sweep and the context-pack assembler reads
// them directly from the event log.
func (w *Worker) project(ctx context.Context, env envelope.Envelope) error {
	switch env.Type {
	case envelope.TypeMemoryCandidate:
		entry, ok := CandidateFromPayload(env)
		if !ok {
			w.logMalformed(env.WorkspaceID, "memory.candidate missing required payload fields")
			return nil
		}
		_, err := w.Memory.CreateEntry(ctx, entry)
		return err

	case envelope.TypeMemoryPromoted:
		return w.applyStatusTransition(ctx, env, memory.StatusPromoted)

	case envelope.TypeMemoryRetracted:
		return w.applyStatusTransition(ctx, env, memory.StatusRetracted)
	}
	return nil
}

func (w *Worker) applyStatusTransition(ctx context.Context, env envelope.Envelope, status memory.Status) error {
	entryID, ok := entryIDFromPayload(env)
	if !ok {
		w.logMalformed(env.WorkspaceID, "missing entry_id in "+string(env.Type)+" payload")
		return nil
	}
	outcome, err := w.Memory.UpdateStatus(ctx, entryID, status, env.TS)
	if err != nil {
		return err
	}
	if outcome == memory.NotFound {
		w.logMalformed(env.WorkspaceID, "entry_id not found for "+string(env.Type))
	}
	return nil
}

// CandidateFromPayload constructs the candidate memory.Entry a
// memory.candidate envelope describes, per spec.md §4.5's "Candidate
// construction" rules. Exported so internal/replay can apply the identical
// construction without re-deriving it.
func CandidateFromPayload(env envelope.Envelope) (memory.Entry, bool) {
	key, _ := env.Payload["key"].(string)
	bucket := memory.BucketWorkspace
	if b, ok := env.Payload["bucket"].(string); ok && b != "" {
		bucket = memory.Bucket(b)
	}
	value, _ := env.Payload["value"].(map[string]any)
	if value == nil {
		value = map[string]any{}
	}

	entry := memory.Entry{
		EntryID:       env.EventID,
		WorkspaceID:   env.WorkspaceID,
		Bucket:        bucket,
		Key:           key,
		Value:         value,
		Status:        memory.StatusCandidate,
		Confidence:    env.Confidence,
		SourceEventID: env.EventID,
		CreatedAt:     env.TS,
		UpdatedAt:     env.TS,
	}
	if bucket == memory.BucketEphemeral {
		ttl := DefaultTTL
		if hours, ok := numberFromPayload(env.Payload["ttl_hours"]); ok {
			ttl = time.Duration(hours * float64(time.Hour))
		}
		expires := env.TS.Add(ttl)
		entry.ExpiresAt = &expires
	}
	if err := entry.Validate(); err != nil {
		return memory.Entry{}, false
	}
	return entry, true
}

func entryIDFromPayload(env envelope.Envelope) (uuid.UUID, bool) {
	raw, ok := env.Payload["entry_id"].(string)
	if !ok || raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func numberFromPayload(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

// sweep implements §4.5 step 4 and §4.6/§4.7: list candidates for the
// triggering envelope's workspace, evaluate each against traceID, and
// republish eligible ones as synthetic memory.promoted envelopes through
// the backbone rather than mutating the store in-process (spec.md §9's
// explicit "auto-promotion through the log, not in-process" requirement).
func (w *Worker) sweep(ctx context.Context, trigger envelope.Envelope) error {
	status := memory.StatusCandidate
	candidates, err := w.Memory.GetEntries(ctx, trigger.WorkspaceID, memory.GetEntriesFilter{Status: &status})
	if err != nil {
		return err
	}

	countRefs := func(workspace string, traceID uuid.UUID, since time.Time) (int, error) {
		return w.Events.CountReferences(ctx, workspace, traceID, since)
	}
	hasDecision := func(workspace string, traceID uuid.UUID) (bool, error) {
		return w.Events.HasEventTypeInTrace(ctx, workspace, traceID, envelope.TypeDecisionRecorded)
	}

	for _, entry := range candidates {
		eligible, err := promotion.Eligible(entry, trigger.TraceID, countRefs, hasDecision)
		if err != nil {
			return err
		}
		if !eligible {
			continue
		}
		synthetic, err := envelope.New(
			entry.WorkspaceID,
			envelope.SyntheticSatellite,
			trigger.TraceID,
			envelope.TypeMemoryPromoted,
			trigger.Severity,
			entry.Confidence,
			map[string]any{"entry_id": entry.EntryID.String()},
			envelope.WithTimestamp(trigger.TS),
		)
		if err != nil {
			return err
		}
		if err := w.Producer.Publish(ctx, synthetic); err != nil {
			return err
		}
		if w.Promotions != nil {
			w.Promotions.Inc()
		}
	}
	return nil
}
