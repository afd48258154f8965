package clipstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound reports that no row satisfied the query. It is distinct
	// from an empty-but-valid result set.
	ErrNotFound = errors.New("clipstore: not found")

	// ErrMalformedName reports a filename that does not follow the clip
	// filename contract. Never fatal; callers skip and log.
	ErrMalformedName = errors.New("clipstore: malformed clip filename")
)

// RangeQuery selects clips ordered by start time ascending (id ascending on
// ties). Clips shorter than MinDuration are excluded from the result but
// remain in storage.
type RangeQuery struct {
	// Speakers filters to the given speaker ids. Empty means all speakers.
	Speakers []string

	// From / To bound the clip start time (inclusive from, exclusive to).
	// A zero To means unbounded.
	From time.Time
	To   time.Time

	// MinDuration excludes clips below the reconstruction threshold.
	MinDuration time.Duration

	// Limit caps the result size. Zero means no limit.
	Limit int
}

// Summary describes the extent of a speaker's (or the whole channel's)
// archived clips.
type Summary struct {
	First time.Time
	Last  time.Time
	Count int64
}

// Stats is the aggregate used by the directory consistency check.
type Stats struct {
	Count       int64
	First       time.Time
	Last        time.Time
	SumDuration time.Duration
}

// PhraseQuery filters phrase index rows.
type PhraseQuery struct {
	// Speakers filters to the given speaker ids. Empty means all speakers.
	Speakers []string

	// MinListeners keeps only phrases captured while at least this many
	// users were on the channel. Zero disables the filter.
	MinListeners int
}

// Store is the persistence contract for clips and the derived phrase index.
// Implementations must return results ordered as documented; the timeline
// reconstructor depends on exact start-time ordering.
type Store interface {
	// Insert appends a single clip and fills in its assigned ID.
	Insert(ctx context.Context, c *Clip) error

	// InsertBatch appends many clips inside bounded transactions.
	InsertBatch(ctx context.Context, clips []Clip) error

	// QueryRange returns clips matching q, ordered by (start_time, id).
	QueryRange(ctx context.Context, q RangeQuery) ([]Clip, error)

	// FirstLastCount summarises the archive extent for the given speakers
	// (all speakers when empty). Returns ErrNotFound when no clip matches.
	FirstLastCount(ctx context.Context, speakers []string) (Summary, error)

	// Stats returns the aggregates the consistency check compares against
	// the recordings directory.
	Stats(ctx context.Context) (Stats, error)

	// DeleteAll removes every clip and phrase row. Used by a full rescan.
	DeleteAll(ctx context.Context) error

	// ReplacePhrases atomically swaps the phrase index contents.
	ReplacePhrases(ctx context.Context, phrases []Phrase) error

	// InsertPhrase appends one phrase (incremental ingest path).
	InsertPhrase(ctx context.Context, p *Phrase) error

	// Phrases returns phrase rows matching q, ordered by (start_time, id).
	Phrases(ctx context.Context, q PhraseQuery) ([]Phrase, error)
}
