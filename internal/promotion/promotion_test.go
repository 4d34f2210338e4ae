package promotion

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clawderpunk/workspace-memory/internal/memory"
)

func baseEntry() memory.Entry {
	return memory.Entry{
		EntryID:       uuid.New(),
		WorkspaceID:   "ws-1",
		Bucket:        memory.BucketWorkspace,
		Key:           "K",
		Status:        memory.StatusCandidate,
		Confidence:    0.9,
		SourceEventID: uuid.New(),
		CreatedAt:     time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func notCalled(t *testing.T) ReferenceCounter {
	return func(string, uuid.UUID, time.Time) (int, error) {
		t.Fatal("countReferences should not have been called")
		return 0, nil
	}
}

func notCalledTrace(t *testing.T) TraceTypeChecker {
	return func(string, uuid.UUID) (bool, error) {
		t.Fatal("hasDecisionInTrace should not have been called")
		return false, nil
	}
}

func TestEligible_NonCandidateShortCircuits(t *testing.T) {
	e := baseEntry()
	e.Status = memory.StatusPromoted
	ok, err := Eligible(e, uuid.New(), notCalled(t), notCalledTrace(t))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEligible_LowConfidenceShortCircuits(t *testing.T) {
	e := baseEntry()
	e.Confidence = 0.74
	ok, err := Eligible(e, uuid.New(), notCalled(t), notCalledTrace(t))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEligible_ByReferenceCount(t *testing.T) {
	e := baseEntry()
	trace := uuid.New()
	var gotSince time.Time
	ok, err := Eligible(e, trace, func(ws string, tr uuid.UUID, since time.Time) (int, error) {
		require.Equal(t, "ws-1", ws)
		require.Equal(t, trace, tr)
		gotSince = since
		return 2, nil
	}, notCalledTrace(t))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.CreatedAt.Add(-ReferenceWindow), gotSince)
}

func TestEligible_FallsThroughToDecisionInTrace(t *testing.T) {
	e := baseEntry()
	ok, err := Eligible(e, uuid.New(),
		func(string, uuid.UUID, time.Time) (int, error) { return 1, nil },
		func(string, uuid.UUID) (bool, error) { return true, nil },
	)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEligible_NeitherConditionMet(t *testing.T) {
	e := baseEntry()
	ok, err := Eligible(e, uuid.New(),
		func(string, uuid.UUID, time.Time) (int, error) { return 0, nil },
		func(string, uuid.UUID) (bool, error) { return false, nil },
	)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEligible_PropagatesStoreError(t *testing.T) {
	e := baseEntry()
	wantErr := require.Error
	_, err := Eligible(e, uuid.New(), func(string, uuid.UUID, time.Time) (int, error) {
		return 0, assertErr
	}, notCalledTrace(t))
	wantErr(t, err)
}

var assertErr = &stubError{"boom"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
