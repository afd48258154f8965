package clipstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the clips and phrases tables. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS clips (
    id          BIGSERIAL PRIMARY KEY,
    speaker_id  TEXT NOT NULL,
    path        TEXT NOT NULL,
    start_time  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL CHECK (duration_ms >= 0),
    byte_size   BIGINT NOT NULL DEFAULT 0,
    channel_id  TEXT NOT NULL DEFAULT '',
    listeners   INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_clips_start ON clips(start_time, id);
CREATE INDEX IF NOT EXISTS idx_clips_speaker_start ON clips(speaker_id, start_time);

CREATE TABLE IF NOT EXISTS phrases (
    id          BIGSERIAL PRIMARY KEY,
    speaker_id  TEXT NOT NULL,
    start_time  TIMESTAMPTZ NOT NULL,
    end_time    TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    clip_count  INT NOT NULL,
    listeners   INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_phrases_speaker ON phrases(speaker_id, start_time);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB

	// batchSize bounds how many rows one InsertBatch transaction inserts.
	batchSize int
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// Option configures a [PostgresStore].
type Option func(*PostgresStore)

// WithBatchSize sets the per-transaction row bound for [PostgresStore.InsertBatch].
// Defaults to 25000.
func WithBatchSize(n int) Option {
	return func(s *PostgresStore) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, batchSize: 25000}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("clipstore: migrate: %w", err)
	}
	return nil
}

// Insert appends a single clip and fills in its assigned ID.
func (s *PostgresStore) Insert(ctx context.Context, c *Clip) error {
	const query = `
		INSERT INTO clips (speaker_id, path, start_time, duration_ms, byte_size, channel_id, listeners)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`

	err := s.db.QueryRow(ctx, query,
		c.SpeakerID, c.Path, c.StartTime, c.Duration.Milliseconds(),
		c.ByteSize, c.SourceChannelID, c.Listeners,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("clipstore: insert: %w", err)
	}
	return nil
}

// InsertBatch appends clips in transactions of at most the configured batch
// size, so a full directory rescan does not hold one giant transaction open.
func (s *PostgresStore) InsertBatch(ctx context.Context, clips []Clip) error {
	const query = `
		INSERT INTO clips (speaker_id, path, start_time, duration_ms, byte_size, channel_id, listeners)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	for start := 0; start < len(clips); start += s.batchSize {
		end := min(start+s.batchSize, len(clips))

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("clipstore: insert batch: begin: %w", err)
		}

		batch := &pgx.Batch{}
		for _, c := range clips[start:end] {
			batch.Queue(query,
				c.SpeakerID, c.Path, c.StartTime, c.Duration.Milliseconds(),
				c.ByteSize, c.SourceChannelID, c.Listeners)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("clipstore: insert batch: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("clipstore: insert batch: commit: %w", err)
		}
	}
	return nil
}

// QueryRange returns clips matching q ordered by (start_time, id) ascending.
func (s *PostgresStore) QueryRange(ctx context.Context, q RangeQuery) ([]Clip, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		SELECT id, speaker_id, path, start_time, duration_ms, byte_size, channel_id, listeners
		FROM clips
		WHERE start_time >= $1 AND duration_ms >= $2`)
	args = append(args, q.From, q.MinDuration.Milliseconds())

	if !q.To.IsZero() {
		args = append(args, q.To)
		fmt.Fprintf(&sb, " AND start_time < $%d", len(args))
	}
	if len(q.Speakers) > 0 {
		args = append(args, q.Speakers)
		fmt.Fprintf(&sb, " AND speaker_id = ANY($%d)", len(args))
	}
	sb.WriteString(" ORDER BY start_time, id")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("clipstore: query range: %w", err)
	}
	defer rows.Close()

	var clips []Clip
	for rows.Next() {
		var (
			c     Clip
			durMs int64
		)
		if err := rows.Scan(&c.ID, &c.SpeakerID, &c.Path, &c.StartTime, &durMs,
			&c.ByteSize, &c.SourceChannelID, &c.Listeners); err != nil {
			return nil, fmt.Errorf("clipstore: query range scan: %w", err)
		}
		c.Duration = time.Duration(durMs) * time.Millisecond
		clips = append(clips, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clipstore: query range: %w", err)
	}
	return clips, nil
}

// FirstLastCount summarises the archive extent for the given speakers.
func (s *PostgresStore) FirstLastCount(ctx context.Context, speakers []string) (Summary, error) {
	var (
		query string
		args  []any
	)
	if len(speakers) == 0 {
		query = `SELECT min(start_time), max(start_time), count(*) FROM clips`
	} else {
		query = `SELECT min(start_time), max(start_time), count(*) FROM clips WHERE speaker_id = ANY($1)`
		args = append(args, speakers)
	}

	var (
		first, last *time.Time
		count       int64
	)
	if err := s.db.QueryRow(ctx, query, args...).Scan(&first, &last, &count); err != nil {
		return Summary{}, fmt.Errorf("clipstore: first/last/count: %w", err)
	}
	if count == 0 || first == nil || last == nil {
		return Summary{}, ErrNotFound
	}
	return Summary{First: *first, Last: *last, Count: count}, nil
}

// Stats returns the aggregates the directory consistency check needs.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	const query = `
		SELECT count(*), min(start_time), max(start_time), coalesce(sum(duration_ms), 0)
		FROM clips`

	var (
		st          Stats
		first, last *time.Time
		sumMs       int64
	)
	if err := s.db.QueryRow(ctx, query).Scan(&st.Count, &first, &last, &sumMs); err != nil {
		return Stats{}, fmt.Errorf("clipstore: stats: %w", err)
	}
	if first != nil {
		st.First = *first
	}
	if last != nil {
		st.Last = *last
	}
	st.SumDuration = time.Duration(sumMs) * time.Millisecond
	return st, nil
}

// DeleteAll removes every clip and phrase row.
func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE clips, phrases RESTART IDENTITY`); err != nil {
		return fmt.Errorf("clipstore: delete all: %w", err)
	}
	return nil
}

// ReplacePhrases atomically swaps the phrase index contents.
func (s *PostgresStore) ReplacePhrases(ctx context.Context, phrases []Phrase) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("clipstore: replace phrases: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM phrases`); err != nil {
		return fmt.Errorf("clipstore: replace phrases: clear: %w", err)
	}

	const query = `
		INSERT INTO phrases (speaker_id, start_time, end_time, duration_ms, clip_count, listeners)
		VALUES ($1,$2,$3,$4,$5,$6)`
	batch := &pgx.Batch{}
	for _, p := range phrases {
		batch.Queue(query, p.SpeakerID, p.StartTime, p.EndTime,
			p.Duration.Milliseconds(), p.ClipCount, p.Listeners)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("clipstore: replace phrases: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("clipstore: replace phrases: commit: %w", err)
	}
	return nil
}

// InsertPhrase appends one phrase row and fills in its assigned ID.
func (s *PostgresStore) InsertPhrase(ctx context.Context, p *Phrase) error {
	const query = `
		INSERT INTO phrases (speaker_id, start_time, end_time, duration_ms, clip_count, listeners)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`

	err := s.db.QueryRow(ctx, query,
		p.SpeakerID, p.StartTime, p.EndTime,
		p.Duration.Milliseconds(), p.ClipCount, p.Listeners,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("clipstore: insert phrase: %w", err)
	}
	return nil
}

// Phrases returns phrase rows matching q ordered by (start_time, id).
func (s *PostgresStore) Phrases(ctx context.Context, q PhraseQuery) ([]Phrase, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		SELECT id, speaker_id, start_time, end_time, duration_ms, clip_count, listeners
		FROM phrases
		WHERE listeners >= $1`)
	args = append(args, q.MinListeners)

	if len(q.Speakers) > 0 {
		args = append(args, q.Speakers)
		fmt.Fprintf(&sb, " AND speaker_id = ANY($%d)", len(args))
	}
	sb.WriteString(" ORDER BY start_time, id")

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("clipstore: phrases: %w", err)
	}
	defer rows.Close()

	var phrases []Phrase
	for rows.Next() {
		var (
			p     Phrase
			durMs int64
		)
		if err := rows.Scan(&p.ID, &p.SpeakerID, &p.StartTime, &p.EndTime,
			&durMs, &p.ClipCount, &p.Listeners); err != nil {
			return nil, fmt.Errorf("clipstore: phrases scan: %w", err)
		}
		p.Duration = time.Duration(durMs) * time.Millisecond
		phrases = append(phrases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clipstore: phrases: %w", err)
	}
	return phrases, nil
}

// IsUnavailable reports whether err looks like the store being unreachable
// rather than a query-level failure. Callers surface such errors to the
// requester and abort the current operation without crashing the process.
func IsUnavailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 — connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
