package envelope

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

func TestNew_ValidatesAndDefaults(t *testing.T) {
	e, err := New("ws-A", "sat-1", uuid.New(), TypeTaskCreated, SeverityLow, 0.5, map[string]any{"title": "hi"})
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, e.SchemaVersion)
	assert.NotEqual(t, uuid.Nil, e.EventID)
	assert.Equal(t, time.UTC, e.TS.Location())
}

func TestNew_RejectsOutOfRangeConfidence(t *testing.T) {
	_, err := New("ws-A", "sat-1", uuid.New(), TypeTaskCreated, SeverityLow, 1.5, nil)
	require.Error(t, err)
	assert.True(t, wsmerr.IsValidation(err))
}

func TestNew_RejectsUnknownType(t *testing.T) {
	_, err := New("ws-A", "sat-1", uuid.New(), Type("bogus.type"), SeverityLow, 0.5, nil)
	require.Error(t, err)
}

func TestNew_RejectsEmptyWorkspace(t *testing.T) {
	_, err := New("", "sat-1", uuid.New(), TypeTaskCreated, SeverityLow, 0.5, nil)
	require.Error(t, err)
}

func TestWithTimestamp_NormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("TEST", 3*3600)
	local := time.Date(2026, 1, 2, 10, 0, 0, 0, loc)
	e, err := New("ws-A", "sat-1", uuid.New(), TypeTaskCreated, SeverityLow, 0.5, nil, WithTimestamp(local))
	require.NoError(t, err)
	assert.Equal(t, local.UTC(), e.TS)
}

func TestWireRoundTrip(t *testing.T) {
	e, err := New("ws-A", "sat-1", uuid.New(), TypeDecisionRecorded, SeverityHigh, 0.9, map[string]any{"x": 1.0, "y": "z"})
	require.NoError(t, err)

	data, err := e.ToWire()
	require.NoError(t, err)

	got, err := FromWire(data)
	require.NoError(t, err)

	assert.Equal(t, e.EventID, got.EventID)
	assert.Equal(t, e.WorkspaceID, got.WorkspaceID)
	assert.Equal(t, e.TraceID, got.TraceID)
	assert.Equal(t, e.Type, got.Type)
	assert.Equal(t, e.Severity, got.Severity)
	assert.Equal(t, e.Confidence, got.Confidence)
	assert.Equal(t, e.Payload, got.Payload)
	assert.True(t, e.TS.Equal(got.TS))
}

func TestFromWire_RevalidatesMalformedPayload(t *testing.T) {
	_, err := FromWire([]byte(`{"schema_version":1,"confidence":2.0}`))
	require.Error(t, err)
}

func TestCanonicalJSON_SortsKeys(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, a)
}
