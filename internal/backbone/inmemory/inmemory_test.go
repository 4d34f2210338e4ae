package inmemory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
)

func mustEnvelope(t *testing.T, workspace string) envelope.Envelope {
	t.Helper()
	e, err := envelope.New(workspace, "sat-1", uuid.New(), envelope.TypeProposalCreated, envelope.SeverityLow, 0.5, nil)
	require.NoError(t, err)
	return e
}

func TestPublishThenPollReturnsInOrder(t *testing.T) {
	ctx := context.Background()
	b := New()

	e1 := mustEnvelope(t, "ws-1")
	e2 := mustEnvelope(t, "ws-1")
	require.NoError(t, b.Publish(ctx, e1))
	require.NoError(t, b.Publish(ctx, e2))

	msgs, err := b.Poll(ctx, "ws-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, e1.EventID, msgs[0].Envelope.EventID)
	require.Equal(t, e2.EventID, msgs[1].Envelope.EventID)
}

func TestUnackedMessageIsNotRedeliveredByPollAlone(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Publish(ctx, mustEnvelope(t, "ws-1")))

	first, err := b.Poll(ctx, "ws-1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := b.Poll(ctx, "ws-1", 10)
	require.NoError(t, err)
	require.Empty(t, second, "messages already delivered must not be re-handed-out by Poll")
}

func TestAckRemovesFromInFlight(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Publish(ctx, mustEnvelope(t, "ws-1")))

	msgs, err := b.Poll(ctx, "ws-1", 10)
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, "ws-1", msgs[0].AckID))

	q := b.queueFor("ws-1")
	require.Empty(t, q.inFlight)
}

func TestWorkspacesAreIndependentQueues(t *testing.T) {
	ctx := context.Background()
	b := New()
	require.NoError(t, b.Publish(ctx, mustEnvelope(t, "ws-a")))
	require.NoError(t, b.Publish(ctx, mustEnvelope(t, "ws-b")))

	a, err := b.Poll(ctx, "ws-a", 10)
	require.NoError(t, err)
	require.Len(t, a, 1)

	b2, err := b.Poll(ctx, "ws-b", 10)
	require.NoError(t, err)
	require.Len(t, b2, 1)
}

func TestPing(t *testing.T) {
	require.NoError(t, New().Ping(context.Background()))
}
