package postgres

import (
	"encoding/json"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawderpunk/workspace-memory/internal/memory"
	"github.com/clawderpunk/workspace-memory/internal/wsmerr"
)

// Store implements memory.Store against a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store, pinging the pool up front.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, wsmerr.NewValidation("memory.postgres.new", "pool", "", "pool must not be nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, wsmerr.NewTransient("memory.postgres.new", fmt.Errorf("ping: %w", err))
	}
	return &Store{pool: pool}, nil
}

var _ memory.Store = (*Store)(nil)

func (s *Store) CreateEntry(ctx context.Context, entry memory.Entry) (memory.InsertOutcome, error) {
	if err := entry.Validate(); err != nil {
		return "", err
	}
	value, err := json.Marshal(entry.Value)
	if err != nil {
		return "", wsmerr.NewValidation("memory.create_entry", "value", "", "value must be JSON-encodable: "+err.Error())
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO memory_entries (entry_id, workspace_id, bucket, key, value, status, confidence, source_event_id, promoted_at, retracted_at, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (source_event_id) DO NOTHING
	`, entry.EntryID, entry.WorkspaceID, string(entry.Bucket), entry.Key, value, string(entry.Status), entry.Confidence,
		entry.SourceEventID, entry.PromotedAt, entry.RetractedAt, entry.ExpiresAt, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return "", wsmerr.NewTransient("memory.create_entry", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.Duplicate, nil
	}
	return memory.Inserted, nil
}

func (s *Store) UpdateStatus(ctx context.Context, entryID uuid.UUID, newStatus memory.Status, ts time.Time) (memory.UpdateOutcome, error) {
	var promotedAt, retractedAt *time.Time
	switch newStatus {
	case memory.StatusPromoted:
		promotedAt = &ts
	case memory.StatusRetracted:
		retractedAt = &ts
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE memory_entries
		SET status = $1,
		    updated_at = $2,
		    promoted_at = COALESCE($3, promoted_at),
		    retracted_at = COALESCE($4, retracted_at)
		WHERE entry_id = $5
	`, string(newStatus), ts, promotedAt, retractedAt, entryID)
	if err != nil {
		return "", wsmerr.NewTransient("memory.update_status", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.NotFound, nil
	}
	return memory.Updated, nil
}

func (s *Store) GetEntries(ctx context.Context, workspace string, filter memory.GetEntriesFilter) ([]memory.Entry, error) {
	status := memory.StatusPromoted
	if filter.Status != nil {
		status = *filter.Status
	}

	conditions := []string{"workspace_id = $1", "status = $2"}
	args := []any{workspace, string(status)}
	argIdx := 3

	if filter.Bucket != nil {
		conditions = append(conditions, fmt.Sprintf("bucket = $%d", argIdx))
		args = append(args, string(*filter.Bucket))
		argIdx++
	}
	if !filter.IncludeExpired {
		conditions = append(conditions, fmt.Sprintf("(expires_at IS NULL OR expires_at > $%d)", argIdx))
		args = append(args, time.Now().UTC())
		argIdx++
	}

	sqlQuery := fmt.Sprintf(`
		SELECT entry_id, workspace_id, bucket, key, value, status, confidence, source_event_id, promoted_at, retracted_at, expires_at, created_at, updated_at
		FROM memory_entries WHERE %s ORDER BY updated_at DESC
	`, strings.Join(conditions, " AND "))

	rows, err := s.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, wsmerr.NewTransient("memory.get_entries", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) DeleteWorkspaceEntries(ctx context.Context, workspace string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memory_entries WHERE workspace_id = $1`, workspace)
	if err != nil {
		return 0, wsmerr.NewTransient("memory.delete_workspace_entries", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetCursor(ctx context.Context) (memory.Cursor, bool, error) {
	var c memory.Cursor
	err := s.pool.QueryRow(ctx, `SELECT last_event_id, last_event_ts, updated_at FROM projection_cursor WHERE id = true`).
		Scan(&c.LastEventID, &c.LastEventTS, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return memory.Cursor{}, false, nil
		}
		return memory.Cursor{}, false, wsmerr.NewTransient("memory.get_cursor", err)
	}
	return c, true, nil
}

func (s *Store) UpdateCursor(ctx context.Context, cursor memory.Cursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO projection_cursor (id, last_event_id, last_event_ts, updated_at)
		VALUES (true, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET last_event_id = $1, last_event_ts = $2, updated_at = $3
	`, cursor.LastEventID, cursor.LastEventTS, cursor.UpdatedAt)
	if err != nil {
		return wsmerr.NewTransient("memory.update_cursor", err)
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]memory.Entry, error) {
	var out []memory.Entry
	for rows.Next() {
		var (
			e           memory.Entry
			bucket, status string
			value       []byte
		)
		if err := rows.Scan(&e.EntryID, &e.WorkspaceID, &bucket, &e.Key, &value, &status, &e.Confidence,
			&e.SourceEventID, &e.PromotedAt, &e.RetractedAt, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, wsmerr.NewTransient("memory.scan", err)
		}
		e.Bucket = memory.Bucket(bucket)
		e.Status = memory.Status(status)
		if len(value) > 0 {
			if err := json.Unmarshal(value, &e.Value); err != nil {
				return nil, wsmerr.NewTransient("memory.scan", fmt.Errorf("decode value: %w", err))
			}
		} else {
			e.Value = map[string]any{}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wsmerr.NewTransient("memory.scan", err)
	}
	return out, nil
}
