// Package inmemory is a deterministic, single-process backbone.Producer and
// backbone.Consumer used by tests.
package inmemory

import (
	"context"
	"strconv"
	"sync"

	"github.com/clawderpunk/workspace-memory/internal/backbone"
	"github.com/clawderpunk/workspace-memory/internal/envelope"
)

type queue struct {
	mu      sync.Mutex
	pending []backbone.Message // not yet delivered
	inFlight map[string]backbone.Message // ackID -> message, delivered but not acked
	next    uint64
}

// Backbone is an in-process ordered-per-workspace queue with explicit ack.
type Backbone struct {
	mu     sync.Mutex
	queues map[string]*queue
}

// New constructs an empty Backbone.
func New() *Backbone {
	return &Backbone{queues: make(map[string]*queue)}
}

var (
	_ backbone.Producer   = (*Backbone)(nil)
	_ backbone.Consumer   = (*Backbone)(nil)
	_ backbone.Reachable  = (*Backbone)(nil)
	_ backbone.Discoverer = (*Backbone)(nil)
)

func (b *Backbone) queueFor(workspace string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[workspace]
	if !ok {
		q = &queue{inFlight: make(map[string]backbone.Message)}
		b.queues[workspace] = q
	}
	return q
}

func (b *Backbone) Publish(_ context.Context, env envelope.Envelope) error {
	q := b.queueFor(env.WorkspaceID)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.next++
	q.pending = append(q.pending, backbone.Message{Envelope: env, AckID: strconv.FormatUint(q.next, 10)})
	return nil
}

func (b *Backbone) Poll(_ context.Context, workspace string, max int) ([]backbone.Message, error) {
	q := b.queueFor(workspace)
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || max > len(q.pending) {
		max = len(q.pending)
	}
	out := make([]backbone.Message, max)
	copy(out, q.pending[:max])
	q.pending = q.pending[max:]
	for _, m := range out {
		q.inFlight[m.AckID] = m
	}
	return out, nil
}

func (b *Backbone) Ack(_ context.Context, workspace string, ackID string) error {
	q := b.queueFor(workspace)
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, ackID)
	return nil
}

// Discover lists every workspace with a queue. A workspace gains a queue on
// its first Publish or Poll, so this mirrors redisstreams.Discover's
// "streams that have ever been written to" semantics.
func (b *Backbone) Discover(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.queues))
	for workspace := range b.queues {
		out = append(out, workspace)
	}
	return out, nil
}

// Ping always succeeds; the in-memory backbone has no external dependency.
func (b *Backbone) Ping(_ context.Context) error { return nil }

func (b *Backbone) Close() error { return nil }
