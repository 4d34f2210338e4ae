// Package replay implements spec.md §4.9: a deterministic rebuild of a
// workspace's memory state from its event log, reusing the same handlers
// the projection worker uses but skipping the auto-promotion sweep and
// cursor update — replay recomputes, it does not re-decide.
package replay

import (
	"context"

	"github.com/google/uuid"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/memory"
	"github.com/clawderpunk/workspace-memory/internal/projection"
)

// Summary reports what replay did.
type Summary struct {
	EntriesDeleted int
	EventsReplayed int
	EntriesCreated int
}

// Runner re-derives memory state for a workspace.
type Runner struct {
	Events eventlog.Store
	Memory memory.Store
}

// Run executes replay(workspace) per spec.md §4.9.
func (r *Runner) Run(ctx context.Context, workspace string) (Summary, error) {
	deleted, err := r.Memory.DeleteWorkspaceEntries(ctx, workspace)
	if err != nil {
		return Summary{}, err
	}

	events, err := r.Events.GetWorkspaceEvents(ctx, workspace, nil, nil)
	if err != nil {
		return Summary{}, err
	}

	created := 0
	for _, env := range events {
		switch env.Type {
		case envelope.TypeMemoryCandidate:
			entry, ok := projection.CandidateFromPayload(env)
			if !ok {
				continue
			}
			outcome, err := r.Memory.CreateEntry(ctx, entry)
			if err != nil {
				return Summary{}, err
			}
			if outcome == memory.Inserted {
				created++
			}
		case envelope.TypeMemoryPromoted:
			if err := r.applyTransition(ctx, env, memory.StatusPromoted); err != nil {
				return Summary{}, err
			}
		case envelope.TypeMemoryRetracted:
			if err := r.applyTransition(ctx, env, memory.StatusRetracted); err != nil {
				return Summary{}, err
			}
		}
	}

	return Summary{EntriesDeleted: deleted, EventsReplayed: len(events), EntriesCreated: created}, nil
}

func (r *Runner) applyTransition(ctx context.Context, env envelope.Envelope, status memory.Status) error {
	raw, ok := env.Payload["entry_id"].(string)
	if !ok || raw == "" {
		return nil
	}
	entryID, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	_, err = r.Memory.UpdateStatus(ctx, entryID, status, env.TS)
	return err
}
