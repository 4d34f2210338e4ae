// Package ingest is the HTTP-facing producer: validated envelope in,
// published-with-durability-ack or error out, per spec.md §4.4.
package ingest

import (
	"context"

	"github.com/clawderpunk/workspace-memory/internal/backbone"
	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// Producer publishes validated envelopes through the backbone. The backbone
// is the commit point: Publish returning nil means the broker has durably
// accepted the write ("acks=all"-equivalent semantics).
type Producer struct {
	Backbone backbone.Producer
}

// Publish validates env (a no-op if the caller already validated it at
// decode time) and publishes it. A publish failure is always reported to
// the caller as a server error — never silently retried here.
func (p *Producer) Publish(ctx context.Context, env envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if err := p.Backbone.Publish(ctx, env); err != nil {
		return wsmerr.NewTransient("ingest.publish", err)
	}
	return nil
}

// Healthy reports whether the backbone is reachable, per spec.md §4.4's
// "reachable iff at least one partition is visible" — approximated here as
// a direct reachability probe, since the backbone interface abstracts over
// transports that don't all expose partition metadata identically.
func (p *Producer) Healthy(ctx context.Context) error {
	r, ok := p.Backbone.(backbone.Reachable)
	if !ok {
		return nil
	}
	return r.Ping(ctx)
}
