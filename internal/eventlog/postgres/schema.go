// Package postgres implements eventlog.Store on top of PostgreSQL via pgx,
// adapted from the append/read idiom of pkg/dcb/postgres/store.go: a pool
// handle, typed wrapped errors, a dynamic WHERE-clause builder. The DCB
// library's optimistic-lock-by-position append condition has no analogue
// here — idempotency is simpler, keyed purely by event_id.
package postgres

import "context"

// Schema is the DDL this package expects to already exist. The package never
// runs it itself; cmd/wsmemoryd applies it (idempotently) on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	event_id       UUID PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	ts             TIMESTAMPTZ NOT NULL,
	workspace_id   TEXT NOT NULL,
	satellite_id   TEXT NOT NULL,
	trace_id       UUID NOT NULL,
	type           TEXT NOT NULL,
	severity       TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL,
	payload        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS events_workspace_ts_idx ON events (workspace_id, ts);
CREATE INDEX IF NOT EXISTS events_workspace_trace_idx ON events (workspace_id, trace_id);
CREATE INDEX IF NOT EXISTS events_workspace_type_idx ON events (workspace_id, type);
`

// pinger is satisfied by *pgxpool.Pool; kept as an interface so tests can
// swap in a fake without pulling in pgx.
type pinger interface {
	Ping(ctx context.Context) error
}
