package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clawderpunk/workspace-memory/internal/backbone/inmemory"
	"github.com/clawderpunk/workspace-memory/internal/contextpack"
	eventmem "github.com/clawderpunk/workspace-memory/internal/eventlog/memstore"
	"github.com/clawderpunk/workspace-memory/internal/ingest"
	memorymem "github.com/clawderpunk/workspace-memory/internal/memory/memstore"
	"github.com/clawderpunk/workspace-memory/internal/replay"
)

const testToken = "test-token"

func newTestServer() (*Server, *inmemory.Backbone) {
	bb := inmemory.New()
	ev := eventmem.New()
	mem := memorymem.New()
	return &Server{
		Ingest:    &ingest.Producer{Backbone: bb},
		Events:    ev,
		Memory:    mem,
		Assembler: &contextpack.Assembler{Events: ev, Memory: mem},
		Replay:    &replay.Runner{Events: ev, Memory: mem},
		Metrics:   NewMetrics(),
		Logger:    zap.NewNop(),
		APIToken:  testToken,
	}, bb
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any, withAuth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if withAuth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleIngest_RequiresAuth(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodPost, "/events", map[string]any{
		"workspace_id": "ws-1", "satellite_id": "sat", "type": "task.created", "confidence": 0.5,
	}, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleIngest_AcceptsValidEnvelope(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodPost, "/events", map[string]any{
		"workspace_id": "ws-A", "satellite_id": "sat", "type": "task.created", "confidence": 0.9,
		"payload": map[string]any{"title": "hi"},
	}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp.Status)
	require.NotEmpty(t, resp.EventID)
}

func TestHandleIngest_HonoursClientSuppliedTS(t *testing.T) {
	s, bb := newTestServer()
	router := s.Router()

	rec := doRequest(t, router, http.MethodPost, "/events", map[string]any{
		"workspace_id": "ws-A", "satellite_id": "sat", "type": "memory.candidate", "confidence": 0.9,
		"ts": "2025-01-01T00:00:00", // naive, should be interpreted as UTC
		"payload": map[string]any{"bucket": "workspace", "key": "k"},
	}, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	msgs, err := bb.Poll(context.Background(), "ws-A", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), msgs[0].Envelope.TS)
}

func TestHandleIngest_RejectsMalformedTS(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodPost, "/events", map[string]any{
		"workspace_id": "ws-A", "satellite_id": "sat", "type": "task.created", "confidence": 0.9,
		"ts": "not-a-date",
	}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_RejectsInvalidType(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodPost, "/events", map[string]any{
		"workspace_id": "ws-A", "satellite_id": "sat", "type": "not.a.type", "confidence": 0.9,
	}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListEvents_RequiresWorkspaceID(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodGet, "/events", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListEvents_RoundTripsIngestedEvent(t *testing.T) {
	s, bb := newTestServer()
	router := s.Router()

	ingestRec := doRequest(t, router, http.MethodPost, "/events", map[string]any{
		"workspace_id": "ws-A", "satellite_id": "sat", "type": "task.created", "confidence": 0.9,
	}, true)
	require.Equal(t, http.StatusAccepted, ingestRec.Code)

	// The ingestion producer publishes to the backbone; RunOnce would
	// normally drain it, but handleListEvents reads straight from the
	// event log, so persist it directly to simulate the worker having run.
	msgs, err := bb.Poll(context.Background(), "ws-A", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	_, err = s.Events.Persist(context.Background(), msgs[0].Envelope)
	require.NoError(t, err)

	listRec := doRequest(t, router, http.MethodGet, "/events?workspace_id=ws-A", nil, true)
	require.Equal(t, http.StatusOK, listRec.Code)

	var resp listEventsResponse
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Total)
}

func TestHandleContextPack_ReturnsEmptyPackForUnknownWorkspace(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodGet, "/context/ws-none", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReplay_ReturnsSummary(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodPost, "/replay/ws-1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp replayResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.EntriesDeleted)
}

func TestHandleHealth_OK(t *testing.T) {
	s, _ := newTestServer()
	rec := doRequest(t, s.Router(), http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleMetrics_ExposesPrometheusCounters(t *testing.T) {
	s, _ := newTestServer()
	s.Metrics.Malformed.Inc()
	rec := doRequest(t, s.Router(), http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "workspace_memory_malformed_total 1")
	require.Contains(t, rec.Body.String(), "# HELP workspace_memory_events_persisted_total")
}
