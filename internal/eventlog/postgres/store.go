package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// Store implements eventlog.Store against a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store. It pings the pool up front, mirroring
// pkg/dcb/constructors.go's "test the connection" step in NewEventStore.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, wsmerr.NewValidation("eventlog.postgres.new", "pool", "", "pool must not be nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, wsmerr.NewTransient("eventlog.postgres.new", fmt.Errorf("ping: %w", err))
	}
	return &Store{pool: pool}, nil
}

var _ eventlog.Store = (*Store)(nil)

func (s *Store) Persist(ctx context.Context, env envelope.Envelope) (eventlog.PersistOutcome, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return "", wsmerr.NewValidation("eventlog.persist", "payload", "", "payload must be JSON-encodable: "+err.Error())
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO events (event_id, schema_version, ts, workspace_id, satellite_id, trace_id, type, severity, confidence, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING
	`, env.EventID, env.SchemaVersion, env.TS, env.WorkspaceID, env.SatelliteID, env.TraceID, string(env.Type), string(env.Severity), env.Confidence, payload)
	if err != nil {
		return "", wsmerr.NewTransient("eventlog.persist", err)
	}
	if tag.RowsAffected() == 0 {
		return eventlog.Duplicate, nil
	}
	return eventlog.Inserted, nil
}

func (s *Store) Query(ctx context.Context, workspace string, filter eventlog.QueryFilter) ([]envelope.Envelope, int, error) {
	if filter.Offset < 0 {
		return nil, 0, wsmerr.NewValidation("eventlog.query", "offset", "", "offset must be >= 0")
	}
	if filter.Limit > eventlog.MaxLimit {
		return nil, 0, wsmerr.NewValidation("eventlog.query", "limit", "", "limit exceeds maximum")
	}
	limit := filter.Limit
	if limit <= 0 || limit > eventlog.MaxLimit {
		limit = eventlog.MaxLimit
	}

	conditions := []string{"workspace_id = $1"}
	args := []any{workspace}
	argIdx := 2

	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, string(*filter.Type))
		argIdx++
	}
	if filter.After != nil {
		conditions = append(conditions, fmt.Sprintf("ts > $%d", argIdx))
		args = append(args, *filter.After)
		argIdx++
	}
	if filter.Before != nil {
		conditions = append(conditions, fmt.Sprintf("ts < $%d", argIdx))
		args = append(args, *filter.Before)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countSQL := "SELECT COUNT(*) FROM events WHERE " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, wsmerr.NewTransient("eventlog.query", err)
	}

	sqlQuery := fmt.Sprintf("SELECT event_id, schema_version, ts, workspace_id, satellite_id, trace_id, type, severity, confidence, payload FROM events WHERE %s ORDER BY ts ASC LIMIT $%d OFFSET $%d", where, argIdx, argIdx+1)
	args = append(args, limit, filter.Offset)

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, wsmerr.NewTransient("eventlog.query", err)
	}
	defer rows.Close()

	events, err := scanEnvelopes(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *Store) GetWorkspaceEvents(ctx context.Context, workspace string, types []envelope.Type, afterTS *time.Time) ([]envelope.Envelope, error) {
	conditions := []string{"workspace_id = $1"}
	args := []any{workspace}
	argIdx := 2

	if len(types) > 0 {
		typeStrs := make([]string, len(types))
		for i, t := range types {
			typeStrs[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d::text[])", argIdx))
		args = append(args, typeStrs)
		argIdx++
	}
	if afterTS != nil {
		conditions = append(conditions, fmt.Sprintf("ts > $%d", argIdx))
		args = append(args, *afterTS)
		argIdx++
	}

	sqlQuery := fmt.Sprintf("SELECT event_id, schema_version, ts, workspace_id, satellite_id, trace_id, type, severity, confidence, payload FROM events WHERE %s ORDER BY ts ASC", strings.Join(conditions, " AND "))

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wsmerr.NewTransient("eventlog.get_workspace_events", err)
	}
	defer rows.Close()

	return scanEnvelopes(rows)
}

func (s *Store) CountReferences(ctx context.Context, workspace string, traceID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM events WHERE workspace_id = $1 AND trace_id = $2 AND ts >= $3
	`, workspace, traceID, since).Scan(&n)
	if err != nil {
		return 0, wsmerr.NewTransient("eventlog.count_references", err)
	}
	return n, nil
}

func (s *Store) HasEventTypeInTrace(ctx context.Context, workspace string, traceID uuid.UUID, typ envelope.Type) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM events WHERE workspace_id = $1 AND trace_id = $2 AND type = $3)
	`, workspace, traceID, string(typ)).Scan(&exists)
	if err != nil {
		return false, wsmerr.NewTransient("eventlog.has_event_type_in_trace", err)
	}
	return exists, nil
}

func scanEnvelopes(rows pgx.Rows) ([]envelope.Envelope, error) {
	var out []envelope.Envelope
	for rows.Next() {
		var (
			e             envelope.Envelope
			typ, severity string
			payload       []byte
		)
		if err := rows.Scan(&e.EventID, &e.SchemaVersion, &e.TS, &e.WorkspaceID, &e.SatelliteID, &e.TraceID, &typ, &severity, &e.Confidence, &payload); err != nil {
			return nil, wsmerr.NewTransient("eventlog.scan", err)
		}
		e.Type = envelope.Type(typ)
		e.Severity = envelope.Severity(severity)
		e.TS = e.TS.UTC()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, wsmerr.NewTransient("eventlog.scan", fmt.Errorf("decode payload: %w", err))
			}
		} else {
			e.Payload = map[string]any{}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wsmerr.NewTransient("eventlog.scan", err)
	}
	return out, nil
}
