package soundbank

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the sound catalogue and user preferences.
const Schema = `
CREATE TABLE IF NOT EXISTS sounds (
    name         TEXT PRIMARY KEY,
    extension    TEXT NOT NULL,
    duration_ms  BIGINT NOT NULL DEFAULT 0,
    byte_size    BIGINT NOT NULL DEFAULT 0,
    bit_rate     BIGINT NOT NULL DEFAULT 0,
    volume       DOUBLE PRECISION NOT NULL DEFAULT 100,
    played_count BIGINT NOT NULL DEFAULT 0,
    uploader_id  TEXT NOT NULL DEFAULT '',
    uploaded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sound_users (
    user_id TEXT PRIMARY KEY,
    volume  DOUBLE PRECISION NOT NULL DEFAULT 100
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a sound catalogue over the given connection or
// pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("soundbank: migrate: %w", err)
	}
	return nil
}

// Upsert inserts or refreshes a catalogue row by name. The probe-derived
// columns are refreshed; volume, played count and uploader survive.
func (s *PostgresStore) Upsert(ctx context.Context, snd *Sound) error {
	const query = `
		INSERT INTO sounds (name, extension, duration_ms, byte_size, bit_rate, uploader_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (name) DO UPDATE SET
			extension   = EXCLUDED.extension,
			duration_ms = EXCLUDED.duration_ms,
			byte_size   = EXCLUDED.byte_size,
			bit_rate    = EXCLUDED.bit_rate`

	_, err := s.db.Exec(ctx, query,
		snd.Name, snd.Extension, snd.Duration.Milliseconds(),
		snd.ByteSize, snd.BitRate, snd.UploaderID)
	if err != nil {
		return fmt.Errorf("soundbank: upsert %q: %w", snd.Name, err)
	}
	return nil
}

// Prune removes catalogue rows whose files disappeared from the directory.
func (s *PostgresStore) Prune(ctx context.Context, keep []string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sounds WHERE NOT (name = ANY($1))`, keep)
	if err != nil {
		return 0, fmt.Errorf("soundbank: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

const soundColumns = `name, extension, duration_ms, byte_size, bit_rate, volume, played_count, uploader_id, uploaded_at`

// All returns the whole catalogue ordered by name.
func (s *PostgresStore) All(ctx context.Context) ([]Sound, error) {
	rows, err := s.db.Query(ctx, `SELECT `+soundColumns+` FROM sounds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("soundbank: list: %w", err)
	}
	defer rows.Close()

	var sounds []Sound
	for rows.Next() {
		snd, err := scanSound(rows)
		if err != nil {
			return nil, fmt.Errorf("soundbank: list scan: %w", err)
		}
		sounds = append(sounds, snd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("soundbank: list: %w", err)
	}
	return sounds, nil
}

// ByName returns one sound by exact name.
func (s *PostgresStore) ByName(ctx context.Context, name string) (Sound, error) {
	row := s.db.QueryRow(ctx, `SELECT `+soundColumns+` FROM sounds WHERE name = $1`, name)
	snd, err := scanSound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sound{}, fmt.Errorf("soundbank: sound %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Sound{}, fmt.Errorf("soundbank: sound %q: %w", name, err)
	}
	return snd, nil
}

func scanSound(row pgx.Row) (Sound, error) {
	var (
		snd   Sound
		durMs int64
	)
	err := row.Scan(&snd.Name, &snd.Extension, &durMs, &snd.ByteSize,
		&snd.BitRate, &snd.Volume, &snd.PlayedCount, &snd.UploaderID, &snd.UploadedAt)
	if err != nil {
		return Sound{}, err
	}
	snd.Duration = time.Duration(durMs) * time.Millisecond
	return snd, nil
}

// IncrementPlayed bumps a sound's played counter.
func (s *PostgresStore) IncrementPlayed(ctx context.Context, name string) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE sounds SET played_count = played_count + 1 WHERE name = $1`, name); err != nil {
		return fmt.Errorf("soundbank: increment played %q: %w", name, err)
	}
	return nil
}

// SetVolume stores a per-sound volume multiplier in percent.
func (s *PostgresStore) SetVolume(ctx context.Context, name string, volume float64) error {
	if _, err := s.db.Exec(ctx,
		`UPDATE sounds SET volume = $2 WHERE name = $1`, name, volume); err != nil {
		return fmt.Errorf("soundbank: set volume %q: %w", name, err)
	}
	return nil
}

// UserVolume returns a user's personal volume, 100 percent by default.
func (s *PostgresStore) UserVolume(ctx context.Context, userID string) (float64, error) {
	var volume float64
	err := s.db.QueryRow(ctx,
		`SELECT volume FROM sound_users WHERE user_id = $1`, userID).Scan(&volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return 100, nil
	}
	if err != nil {
		return 0, fmt.Errorf("soundbank: user volume %q: %w", userID, err)
	}
	return volume, nil
}

// SetUserVolume stores a user's personal volume in percent.
func (s *PostgresStore) SetUserVolume(ctx context.Context, userID string, volume float64) error {
	const query = `
		INSERT INTO sound_users (user_id, volume) VALUES ($1,$2)
		ON CONFLICT (user_id) DO UPDATE SET volume = EXCLUDED.volume`
	if _, err := s.db.Exec(ctx, query, userID, volume); err != nil {
		return fmt.Errorf("soundbank: set user volume %q: %w", userID, err)
	}
	return nil
}
