package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clawderpunk/workspace-memory/internal/contextpack"
	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/ingest"
	"github.com/clawderpunk/workspace-memory/internal/memory"
	"github.com/clawderpunk/workspace-memory/internal/replay"
)

// Server wires the route handlers to their backing operations.
type Server struct {
	Ingest     *ingest.Producer
	Events     eventlog.Store
	Memory     memory.Store
	Assembler  *contextpack.Assembler
	Replay     *replay.Runner
	Metrics    *Metrics
	Logger     *zap.Logger
	APIToken   string
}

// Router builds the *http.ServeMux for every route in spec.md §6, wrapped
// in the recoverer and (on protected routes) the bearer-token middleware.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	protect := auth(s.APIToken)

	mux.Handle("POST /events", protect(methodOnly(http.MethodPost, s.handleIngest)))
	mux.Handle("GET /events", protect(methodOnly(http.MethodGet, s.handleListEvents)))
	mux.Handle("GET /context/{workspace_id}", protect(methodOnly(http.MethodGet, s.handleContextPack)))
	mux.Handle("GET /memory/{workspace_id}", protect(methodOnly(http.MethodGet, s.handleListMemory)))
	mux.Handle("POST /replay/{workspace_id}", protect(methodOnly(http.MethodPost, s.handleReplay)))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.Metrics.handleMetrics)

	return recoverer(s.Logger, mux)
}

type ingestRequest struct {
	EventID     *string        `json:"event_id"`
	TS          *string        `json:"ts"`
	WorkspaceID string         `json:"workspace_id"`
	SatelliteID string         `json:"satellite_id"`
	TraceID     *string        `json:"trace_id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Payload     map[string]any `json:"payload"`
}

type ingestResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "malformed JSON body")
		return
	}

	severity := envelope.Severity(req.Severity)
	if severity == "" {
		severity = envelope.SeverityLow
	}

	traceID := uuid.New()
	if req.TraceID != nil {
		parsed, err := uuid.Parse(*req.TraceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "trace_id must be a UUID")
			return
		}
		traceID = parsed
	}

	var opts []envelope.Option
	if req.EventID != nil {
		id, err := uuid.Parse(*req.EventID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "event_id must be a UUID")
			return
		}
		opts = append(opts, envelope.WithEventID(id))
	}
	if req.TS != nil {
		ts, err := parseTS(*req.TS)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "ts must be an ISO-8601 datetime")
			return
		}
		opts = append(opts, envelope.WithTimestamp(ts))
	}

	env, err := envelope.New(req.WorkspaceID, req.SatelliteID, traceID, envelope.Type(req.Type), severity, req.Confidence, req.Payload, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := s.Ingest.Publish(r.Context(), env); err != nil {
		writeStoreError(w, err)
		return
	}
	s.Metrics.Persisted.Inc()

	writeJSON(w, http.StatusAccepted, ingestResponse{Status: "accepted", EventID: env.EventID.String()})
}

// tsLayouts are tried in order against a client-supplied ts, covering both
// offset-aware and naive ISO-8601 datetimes — the naive forms are what
// datetime.fromisoformat accepts without a zone, which WithTimestamp then
// normalises to UTC the same way the original envelope model's
// normalize_ts_to_utc validator does.
var tsLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTS(raw string) (time.Time, error) {
	for _, layout := range tsLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a recognised ISO-8601 datetime", raw)
}

type listEventsResponse struct {
	Events []envelope.Envelope `json:"events"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace_id")
	if workspace == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "workspace_id is required")
		return
	}

	filter := eventlog.QueryFilter{}
	if t := r.URL.Query().Get("type"); t != "" {
		typ := envelope.Type(t)
		filter.Type = &typ
	}
	if v := r.URL.Query().Get("after"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "after must be ISO-8601")
			return
		}
		filter.After = &ts
	}
	if v := r.URL.Query().Get("before"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "before must be ISO-8601")
			return
		}
		filter.Before = &ts
	}
	filter.Limit = eventlog.MaxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > eventlog.MaxLimit {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_error", "offset must be >= 0")
			return
		}
		filter.Offset = n
	}

	events, total, err := s.Events.Query(r.Context(), workspace, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (s *Server) handleContextPack(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace_id")

	var q *string
	if v := r.URL.Query().Get("q"); v != "" {
		q = &v
	}
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "since must be ISO-8601")
			return
		}
		since = &ts
	}
	limit := contextpack.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be 1..100")
			return
		}
		limit = n
	}
	limits := contextpack.Limits{Memory: limit, Decisions: limit, Tasks: limit, Risks: limit}

	pack, err := s.Assembler.Assemble(r.Context(), workspace, q, since, limits, time.Now().UTC())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pack)
}

type listMemoryResponse struct {
	Entries []memory.Entry `json:"entries"`
	Count   int            `json:"count"`
}

func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace_id")

	filter := memory.GetEntriesFilter{}
	if b := r.URL.Query().Get("bucket"); b != "" {
		bucket := memory.Bucket(b)
		filter.Bucket = &bucket
	}
	if st := r.URL.Query().Get("status"); st != "" {
		status := memory.Status(st)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("include_expired"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "include_expired must be a bool")
			return
		}
		filter.IncludeExpired = include
	}

	entries, err := s.Memory.GetEntries(r.Context(), workspace, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listMemoryResponse{Entries: entries, Count: len(entries)})
}

type replayResponse struct {
	EntriesDeleted int `json:"entries_deleted"`
	EventsReplayed int `json:"events_replayed"`
	EntriesCreated int `json:"entries_created"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	workspace := r.PathValue("workspace_id")
	summary, err := s.Replay.Run(r.Context(), workspace)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replayResponse{
		EntriesDeleted: summary.EntriesDeleted,
		EventsReplayed: summary.EventsReplayed,
		EntriesCreated: summary.EntriesCreated,
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Ingest.Healthy(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unhealthy", "backbone unreachable")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
