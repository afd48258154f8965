// Package soundbank is the catalogue of uploaded sound files and per-user
// volume preferences. Sounds resolve play-command words to files; the scan
// keeps the catalogue consistent with the sounds directory.
package soundbank

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no sound matched the lookup.
var ErrNotFound = errors.New("soundbank: not found")

// Sound is one catalogued audio file. Name is the filename stem and the
// word users type to play it.
type Sound struct {
	Name      string
	Extension string
	Duration  time.Duration
	ByteSize  int64
	BitRate   int64

	// Volume is the per-sound multiplier in percent, 100 by default.
	Volume float64

	PlayedCount int64
	UploaderID  string
	UploadedAt  time.Time
}

// Filename returns the sound's filename inside the sounds directory.
func (s Sound) Filename() string {
	return s.Name + "." + s.Extension
}

// Store is the persistence contract for the sound catalogue.
type Store interface {
	// Upsert inserts or refreshes a catalogue row by name, preserving
	// volume, played count and uploader on refresh.
	Upsert(ctx context.Context, s *Sound) error

	// Prune removes rows whose name is not in keep. Returns how many rows
	// were removed.
	Prune(ctx context.Context, keep []string) (int64, error)

	// All returns the whole catalogue ordered by name.
	All(ctx context.Context) ([]Sound, error)

	// ByName returns one sound by exact name. Returns ErrNotFound when the
	// name is not catalogued.
	ByName(ctx context.Context, name string) (Sound, error)

	// IncrementPlayed bumps a sound's played counter.
	IncrementPlayed(ctx context.Context, name string) error

	// SetVolume stores a per-sound volume multiplier in percent.
	SetVolume(ctx context.Context, name string, volume float64) error

	// UserVolume returns a user's personal volume in percent, 100 when the
	// user has no stored preference.
	UserVolume(ctx context.Context, userID string) (float64, error)

	// SetUserVolume stores a user's personal volume in percent.
	SetUserVolume(ctx context.Context, userID string, volume float64) error
}

// EffectiveVolume maps a personal volume percentage through the global
// limiter into the engine's 0.0–1.0 multiplier range. The global limiter is
// the percentage treated as full volume.
func EffectiveVolume(personal, globalLimit float64) float64 {
	return (personal * (globalLimit / 100)) / 100
}
