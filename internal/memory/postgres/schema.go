// Package postgres implements memory.Store on top of PostgreSQL via pgx,
// following the same conventions as internal/eventlog/postgres: a pool
// handle, typed wrapped errors, dynamic WHERE-clause assembly.
package postgres

// Schema is the DDL this package expects to already exist. The package never
// runs it itself; cmd/wsmemoryd applies it (idempotently) on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	entry_id        UUID PRIMARY KEY,
	workspace_id    TEXT NOT NULL,
	bucket          TEXT NOT NULL,
	key             TEXT NOT NULL,
	value           JSONB NOT NULL,
	status          TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	source_event_id UUID NOT NULL UNIQUE,
	promoted_at     TIMESTAMPTZ,
	retracted_at    TIMESTAMPTZ,
	expires_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS memory_entries_workspace_status_idx ON memory_entries (workspace_id, status);
CREATE INDEX IF NOT EXISTS memory_entries_workspace_bucket_idx ON memory_entries (workspace_id, bucket);

CREATE TABLE IF NOT EXISTS projection_cursor (
	id            BOOLEAN PRIMARY KEY DEFAULT true CHECK (id),
	last_event_id UUID NOT NULL,
	last_event_ts TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
`
