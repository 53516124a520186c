package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlVoiceTurns = `
CREATE TABLE IF NOT EXISTS voice_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_key TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_turns_session_key
    ON voice_turns (session_key);

CREATE INDEX IF NOT EXISTS idx_voice_turns_session_created
    ON voice_turns (session_key, created_at);

CREATE INDEX IF NOT EXISTS idx_voice_turns_fts
    ON voice_turns USING GIN (to_tsvector('english', content));
`

// PostgresStore is a transcript store backed by a PostgreSQL voice_turns
// table with a GIN full-text search index.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at dsn and runs [Migrate].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate ensures the voice_turns table and its indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlVoiceTurns); err != nil {
		return fmt.Errorf("history migrate: %w", err)
	}
	return nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, sessionKey, role, content string) error {
	const q = `
		INSERT INTO voice_turns (session_key, role, content)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, sessionKey, role, content); err != nil {
		return fmt.Errorf("history: record turn: %w", err)
	}
	return nil
}

// Recent implements [Store]. The newest limit turns are selected, then
// returned oldest first.
func (s *PostgresStore) Recent(ctx context.Context, sessionKey string, limit int) ([]Entry, error) {
	const q = `
		SELECT session_key, role, content, created_at
		FROM (
		    SELECT session_key, role, content, created_at
		    FROM   voice_turns
		    WHERE  session_key = $1
		    ORDER  BY created_at DESC, id DESC
		    LIMIT  $2
		) newest
		ORDER BY created_at, session_key`

	rows, err := s.pool.Query(ctx, q, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [Store]. The query is passed to plainto_tsquery so no
// special operator syntax is required.
func (s *PostgresStore) Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', content) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionKey != "" {
		conditions = append(conditions, "session_key = "+next(opts.SessionKey))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "created_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "created_at < "+next(opts.Before))
	}

	q := "SELECT session_key, role, content, created_at\n" +
		"FROM   voice_turns\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	return collectEntries(rows)
}

// Close implements [Store].
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.SessionKey, &e.Role, &e.Content, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
