// Package backbone defines the ordered, replayable transport contract from
// spec.md §4.3: per-workspace ordering, consumer-group partition assignment,
// and explicit offset commit via ack.
package backbone

import (
	"context"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
)

// Message pairs a decoded envelope with an opaque ack handle. The handle is
// backend-specific (a Redis Streams entry ID, an in-memory sequence number)
// and must be round-tripped unmodified to Ack.
type Message struct {
	Envelope envelope.Envelope
	AckID    string
}

// Producer publishes envelopes onto a workspace's ordered stream.
type Producer interface {
	// Publish appends env to its workspace's stream. It returns once the
	// backend has durably accepted the write (the "acks=all"-equivalent
	// semantics spec.md §4.3 calls for).
	Publish(ctx context.Context, env envelope.Envelope) error

	// Close releases producer resources.
	Close() error
}

// Consumer reads envelopes from a workspace's ordered stream as a member of
// a named consumer group, with explicit ack-based offset commit.
type Consumer interface {
	// Poll returns up to max undelivered messages for workspace, in order.
	// It may return no messages; an implementation may wait for new
	// messages until its own timeout or ctx is done.
	Poll(ctx context.Context, workspace string, max int) ([]Message, error)

	// Ack commits AckID as processed. Unacked messages are redelivered on a
	// subsequent Poll by this or another consumer in the group, giving
	// at-least-once delivery.
	Ack(ctx context.Context, workspace string, ackID string) error

	// Close releases consumer resources.
	Close() error
}

// Reachable reports whether the backbone is reachable, for health checks.
type Reachable interface {
	Ping(ctx context.Context) error
}

// Discoverer lists the workspaces with a live stream. Backbones partitioned
// per-workspace (rather than exposing one shared topic) implement this so
// the projection worker can learn what to poll without a separate
// workspace registry.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}
