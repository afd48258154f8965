// Package timeline reconstructs playable windows of the voice archive. Given
// an anchor time (sequence mode) or a qualifying phrase (phrase mode) it
// queries the clip index and produces a Timeline: an ordered list of clip
// references with relative offsets and lane assignments, ready for the audio
// graph builder.
package timeline

import (
	"errors"
	"time"

	"github.com/voxhoard/voxhoard/internal/clipstore"
)

// ErrNothingFound reports that no clip or phrase satisfied the query before
// the search horizon. It is distinct from an empty-but-valid window; callers
// surface it to the requester instead of playing silence.
var ErrNothingFound = errors.New("timeline: nothing found")

// Method describes how a Timeline's entries are combined into one stream.
type Method string

const (
	// MethodConcat chains all entries back to back on a single lane.
	MethodConcat Method = "concat"

	// MethodMix overlays multiple lanes; entries carry absolute delays.
	MethodMix Method = "mix"
)

// Entry places one clip on the reconstructed stream.
type Entry struct {
	Clip clipstore.Clip

	// Offset is the entry's position relative to the Timeline anchor, after
	// gap normalization.
	Offset time.Duration

	// Lane is the mix channel. Always 0 unless temporal overlap forced
	// channel separation.
	Lane int
}

// Timeline is a reconstructed, offset-annotated ordering of clips
// representing one playable window.
type Timeline struct {
	// Anchor is the absolute time all entry offsets are relative to.
	Anchor time.Time

	Entries []Entry
	Method  Method

	// TotalCovered is the sum of all entry durations.
	TotalCovered time.Duration

	// ResultDuration is the length of the reconstructed stream after gap
	// normalization: the furthest entry end across all lanes.
	ResultDuration time.Duration

	// GapsAdded and GapsRemoved report how much silence gap normalization
	// inserted and cut. Diagnostic only.
	GapsAdded   time.Duration
	GapsRemoved time.Duration
}

// Lanes returns the number of mix channels the timeline uses.
func (t *Timeline) Lanes() int {
	n := 0
	for _, e := range t.Entries {
		if e.Lane+1 > n {
			n = e.Lane + 1
		}
	}
	return n
}
