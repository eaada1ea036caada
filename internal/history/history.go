// Package history archives finished tutoring sessions in PostgreSQL. The
// archive is optional: when no DSN is configured the tutor runs without it
// and finished sessions are simply not recorded.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Turn is one learner turn as stored in the archive.
type Turn struct {
	Expected   string  `json:"expected"`
	Actual     string  `json:"actual"`
	Similarity float64 `json:"similarity"`
}

// Entry is a finished session record. The JSON shape is what the history
// endpoint serves to the browser.
type Entry struct {
	// Topic the learner chose for the conversation.
	Topic string `json:"topic"`

	// Difficulty is the CEFR level practiced ("A1".."C1").
	Difficulty string `json:"difficulty"`

	// Score is the 0-10 completion score.
	Score int `json:"score"`

	// Turns holds the learner's per-turn history.
	Turns []Turn `json:"turns"`

	// Feedback is the translated feedback text shown to the learner.
	Feedback string `json:"feedback"`

	// FinishedAt is when the session ended. Zero means now.
	FinishedAt time.Time `json:"finished_at"`
}

// Store is the PostgreSQL-backed session archive. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// schema creates the sessions table on startup. Turns are stored as JSONB so
// the per-turn history stays queryable without a second table.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    topic       TEXT        NOT NULL,
    difficulty  TEXT        NOT NULL,
    score       INT         NOT NULL,
    turns       JSONB       NOT NULL DEFAULT '[]',
    feedback    TEXT        NOT NULL DEFAULT '',
    finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS sessions_finished_at_idx ON sessions (finished_at DESC);
`

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn and ensures the sessions table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Record appends a finished session to the archive.
func (s *Store) Record(ctx context.Context, e Entry) error {
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	turns := e.Turns
	if turns == nil {
		turns = []Turn{}
	}
	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("history: marshal turns: %w", err)
	}

	const q = `
		INSERT INTO sessions (topic, difficulty, score, turns, feedback, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.pool.Exec(ctx, q, e.Topic, e.Difficulty, e.Score, payload, e.Feedback, finished); err != nil {
		return fmt.Errorf("history: record session: %w", err)
	}
	return nil
}

// Recent returns up to limit finished sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT topic, difficulty, score, turns, feedback, finished_at
		FROM   sessions
		ORDER  BY finished_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e   Entry
			raw []byte
		)
		if err := row.Scan(&e.Topic, &e.Difficulty, &e.Score, &raw, &e.Feedback, &e.FinishedAt); err != nil {
			return Entry{}, err
		}
		if err := json.Unmarshal(raw, &e.Turns); err != nil {
			return Entry{}, fmt.Errorf("decode turns: %w", err)
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan recent: %w", err)
	}
	return entries, nil
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
