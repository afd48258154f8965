package timeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/voxhoard/voxhoard/internal/clipstore"
	"github.com/voxhoard/voxhoard/internal/observe"
)

// Reconstructor turns clip index queries into playable Timelines. It is
// stateless apart from its random source and safe for concurrent use when
// every caller gets its own instance.
type Reconstructor struct {
	store   Store
	rng     *rand.Rand
	metrics *observe.Metrics
}

// ReconstructorOption configures a [Reconstructor].
type ReconstructorOption func(*Reconstructor)

// WithRand replaces the phrase-selection random source. Tests inject a
// seeded source for reproducible picks.
func WithRand(rng *rand.Rand) ReconstructorOption {
	return func(r *Reconstructor) { r.rng = rng }
}

// NewReconstructor creates a Reconstructor over the given clip store.
func NewReconstructor(store Store, opts ...ReconstructorOption) *Reconstructor {
	r := &Reconstructor{
		store:   store,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// PhraseQuery parameterizes a phrase-mode pick.
type PhraseQuery struct {
	// Speakers filters candidate phrases to the given speaker ids.
	Speakers []string

	// MinListeners keeps only phrases captured while at least this many
	// users were on the channel.
	MinListeners int

	// MinClipDuration excludes clips below the reconstruction threshold when
	// the picked phrase is materialized.
	MinClipDuration time.Duration
}

// Phrase picks one pre-computed phrase at random, weighted by cumulative
// speech duration so longer utterances surface proportionally more often,
// and materializes its clip run as a single-lane concat Timeline. Returns
// [ErrNothingFound] when the phrase index has no qualifying row; there is no
// retry loop on an empty index.
func (r *Reconstructor) Phrase(ctx context.Context, q PhraseQuery) (*Timeline, error) {
	start := time.Now()
	defer func() { r.metrics.RecordReconstruction(ctx, "phrase", time.Since(start)) }()

	phrases, err := r.store.Phrases(ctx, clipstore.PhraseQuery{
		Speakers:     q.Speakers,
		MinListeners: q.MinListeners,
	})
	if err != nil {
		return nil, fmt.Errorf("timeline: phrase query: %w", err)
	}
	if len(phrases) == 0 {
		return nil, ErrNothingFound
	}

	picked := phrases[r.pickWeighted(phrases)]

	clips, err := r.store.QueryRange(ctx, clipstore.RangeQuery{
		Speakers:    []string{picked.SpeakerID},
		From:        picked.StartTime,
		To:          picked.EndTime.Add(time.Millisecond),
		MinDuration: q.MinClipDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("timeline: phrase clips: %w", err)
	}
	if len(clips) == 0 {
		return nil, ErrNothingFound
	}

	tl := &Timeline{Anchor: picked.StartTime, Method: MethodConcat}
	for _, clip := range clips {
		offset := clip.StartTime.Sub(tl.Anchor)
		tl.Entries = append(tl.Entries, Entry{Clip: clip, Offset: offset})
		tl.TotalCovered += clip.Duration
		if end := offset + clip.Duration; end > tl.ResultDuration {
			tl.ResultDuration = end
		}
	}
	return tl, nil
}

// pickWeighted returns the index of a phrase chosen with probability
// proportional to its duration. Ties between equal-weight candidates fall
// out of the uniform draw; index order is the only other bias.
func (r *Reconstructor) pickWeighted(phrases []clipstore.Phrase) int {
	var total int64
	for _, p := range phrases {
		total += weight(p)
	}
	n := r.rng.Int64N(total)
	for i, p := range phrases {
		n -= weight(p)
		if n < 0 {
			return i
		}
	}
	return len(phrases) - 1
}

// weight never returns zero so every qualifying phrase stays reachable.
func weight(p clipstore.Phrase) int64 {
	if ms := p.Duration.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
