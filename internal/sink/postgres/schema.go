// Package postgres stores pipeline events in PostgreSQL.
//
// Every delivered event becomes one row of the events table. The full event
// is kept as JSONB next to the columns used for lookups, so rows decode back
// into the concrete event types with [event.Unmarshal].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	sink.Attach(bus, store, types, metrics)
//	events, _ := store.ByUtterance(ctx, "utt_1700000000000_0a1b2c3d")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlEvents = `
CREATE TABLE IF NOT EXISTS events (
    event_id      TEXT         PRIMARY KEY,
    event_type    TEXT         NOT NULL,
    utterance_id  TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    payload       JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_utterance_id
    ON events (utterance_id);

CREATE INDEX IF NOT EXISTS idx_events_created_at
    ON events (created_at);

CREATE INDEX IF NOT EXISTS idx_events_type_created_at
    ON events (event_type, created_at);
`

// Migrate creates the events table and its indexes. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlEvents); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
