package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wakecmd/internal/event"
	"github.com/MrWong99/wakecmd/internal/health"
	"github.com/MrWong99/wakecmd/internal/sink"
)

// Compile-time interface checks.
var (
	_ sink.Sink     = (*Store)(nil)
	_ health.Pinger = (*Store)(nil)
)

// Store is a PostgreSQL-backed event log. It implements [sink.Sink] so it can
// be attached to the event bus directly.
//
// All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Name implements [sink.Sink].
func (s *Store) Name() string { return "postgres" }

// Handle implements [sink.Sink] by inserting ev.
func (s *Store) Handle(ctx context.Context, ev event.Event) error {
	return s.Insert(ctx, ev)
}

// Ping implements [health.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert stores ev. Inserting an event id that already exists is a no-op.
func (s *Store) Insert(ctx context.Context, ev event.Event) error {
	const q = `
		INSERT INTO events (event_id, event_type, utterance_id, created_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`

	payload, err := event.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: insert: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, ev.Timestamp())
	if err != nil {
		created = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, q,
		ev.ID(),
		string(ev.Type()),
		event.UtteranceID(ev),
		created,
		payload,
	)
	if err != nil {
		return fmt.Errorf("events: insert: %w", err)
	}
	return nil
}

// Recent returns events created within the last window, oldest first. When
// types is non-empty only those event types are returned. A limit of zero
// means no limit.
func (s *Store) Recent(ctx context.Context, window time.Duration, limit int, types ...event.Type) ([]event.Event, error) {
	args := []any{window.Microseconds()}
	q := `
		SELECT payload
		FROM   events
		WHERE  created_at >= now() - ($1::bigint * interval '1 microsecond')`

	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		args = append(args, names)
		q += fmt.Sprintf("\n		  AND  event_type = ANY($%d)", len(args))
	}
	q += "\n		ORDER  BY created_at, event_id"
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf("\n		LIMIT  $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("events: recent: %w", err)
	}
	return collectEvents(rows)
}

// ByUtterance returns every event recorded for utteranceID, oldest first.
// For a transcribed utterance that is the audio_segment, the
// transcription_result and, when the wake word matched, the command_detected.
func (s *Store) ByUtterance(ctx context.Context, utteranceID string) ([]event.Event, error) {
	const q = `
		SELECT payload
		FROM   events
		WHERE  utterance_id = $1
		ORDER  BY created_at, event_id`

	rows, err := s.pool.Query(ctx, q, utteranceID)
	if err != nil {
		return nil, fmt.Errorf("events: by utterance: %w", err)
	}
	return collectEvents(rows)
}

// Close releases all pooled connections. It always returns nil.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// collectEvents decodes the payload column of each row.
func collectEvents(rows pgx.Rows) ([]event.Event, error) {
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (event.Event, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return nil, err
		}
		return event.Unmarshal(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("events: scan rows: %w", err)
	}
	if events == nil {
		events = []event.Event{}
	}
	return events, nil
}
