package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the talk sessions table.
const Schema = `
CREATE TABLE IF NOT EXISTS talk_sessions (
    id          BIGSERIAL PRIMARY KEY,
    start_time  TIMESTAMPTZ NOT NULL,
    end_time    TIMESTAMPTZ NOT NULL,
    speaker_ids TEXT[] NOT NULL,
    clip_count  INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_talk_sessions_start ON talk_sessions(start_time);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists derived talk sessions.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ SessionSink = (*PostgresStore)(nil)

// NewPostgresStore creates a session store over the given connection or pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("sessions: migrate: %w", err)
	}
	return nil
}

// ReplaceSessions atomically swaps the talk session contents.
func (s *PostgresStore) ReplaceSessions(ctx context.Context, sessions []TalkSession) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sessions: replace: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM talk_sessions`); err != nil {
		return fmt.Errorf("sessions: replace: clear: %w", err)
	}

	const query = `
		INSERT INTO talk_sessions (start_time, end_time, speaker_ids, clip_count)
		VALUES ($1,$2,$3,$4)`
	batch := &pgx.Batch{}
	for _, ts := range sessions {
		batch.Queue(query, ts.Start, ts.End, ts.SpeakerIDs, ts.ClipCount)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("sessions: replace: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sessions: replace: commit: %w", err)
	}
	return nil
}

// Sessions returns talk sessions overlapping [from, to), newest first. A
// zero to means unbounded.
func (s *PostgresStore) Sessions(ctx context.Context, from, to time.Time) ([]TalkSession, error) {
	query := `
		SELECT id, start_time, end_time, speaker_ids, clip_count
		FROM talk_sessions
		WHERE end_time > $1`
	args := []any{from}
	if !to.IsZero() {
		query += ` AND start_time < $2`
		args = append(args, to)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: query: %w", err)
	}
	defer rows.Close()

	var out []TalkSession
	for rows.Next() {
		var ts TalkSession
		if err := rows.Scan(&ts.ID, &ts.Start, &ts.End, &ts.SpeakerIDs, &ts.ClipCount); err != nil {
			return nil, fmt.Errorf("sessions: query scan: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sessions: query: %w", err)
	}
	return out, nil
}
