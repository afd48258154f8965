package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/voxhoard/voxhoard/internal/clipstore"
)

// SequenceQuery parameterizes a contiguous-sequence reconstruction.
type SequenceQuery struct {
	// Anchor is where the window starts. Entry offsets are relative to it.
	Anchor time.Time

	// TargetDuration stops the reconstruction once the result stream reaches
	// this length. Zero means unbounded (the horizon still applies).
	TargetDuration time.Duration

	// GapStop ends the reconstruction when the silence between the furthest
	// covered end and the next clip exceeds it.
	GapStop time.Duration

	// GapNormalize replaces every sequential inter-clip gap with this value,
	// compressing long pauses and padding hard cuts.
	GapNormalize time.Duration

	// Horizon bounds the underlying range query as a safety net against
	// scanning the whole archive.
	Horizon time.Duration

	// Speakers filters the reconstruction to the given speaker ids.
	Speakers []string

	// MinClipDuration excludes clips below the reconstruction threshold.
	MinClipDuration time.Duration
}

// Store is the subset of [clipstore.Store] the reconstructor reads.
type Store interface {
	QueryRange(ctx context.Context, q clipstore.RangeQuery) ([]clipstore.Clip, error)
	Phrases(ctx context.Context, q clipstore.PhraseQuery) ([]clipstore.Phrase, error)
}

// Sequence reconstructs a contiguous window of the archive starting at
// q.Anchor. Overlapping clips are spread across lanes (lowest free lane
// first) and the result is marked [MethodMix]; otherwise everything stays on
// lane 0 as [MethodConcat]. Returns [ErrNothingFound] when no clip exists
// between the anchor and the horizon.
func (r *Reconstructor) Sequence(ctx context.Context, q SequenceQuery) (*Timeline, error) {
	start := time.Now()
	defer func() { r.metrics.RecordReconstruction(ctx, "sequence", time.Since(start)) }()

	clips, err := r.store.QueryRange(ctx, clipstore.RangeQuery{
		Speakers:    q.Speakers,
		From:        q.Anchor,
		To:          q.Anchor.Add(q.Horizon),
		MinDuration: q.MinClipDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("timeline: sequence query: %w", err)
	}
	if len(clips) == 0 {
		return nil, ErrNothingFound
	}

	tl := &Timeline{Anchor: q.Anchor, Method: MethodConcat}

	var (
		// laneEnds holds the normalized end offset of each lane's last entry.
		laneEnds []time.Duration

		// furthestEnd is the furthest raw (un-normalized) end across lanes,
		// used for overlap detection and gap measurement.
		furthestEnd time.Time

		// cumOffset accumulates the per-gap normalization corrections.
		cumOffset time.Duration
	)

	for _, clip := range clips {
		if q.TargetDuration > 0 && tl.ResultDuration >= q.TargetDuration {
			break
		}

		overlap := len(tl.Entries) > 0 && clip.StartTime.Before(furthestEnd)
		if !overlap && len(tl.Entries) > 0 {
			gap := clip.StartTime.Sub(furthestEnd)
			if gap > q.GapStop {
				break
			}
			cumOffset += q.GapNormalize - gap
			if gap > q.GapNormalize {
				tl.GapsRemoved += gap - q.GapNormalize
			} else {
				tl.GapsAdded += q.GapNormalize - gap
			}
		}

		offset := clip.StartTime.Sub(q.Anchor) + cumOffset

		// Lowest free lane whose last entry ended at or before this clip's
		// normalized start. Deterministic for identical input.
		lane := -1
		for i, end := range laneEnds {
			if end <= offset {
				lane = i
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnds)
			laneEnds = append(laneEnds, 0)
		}
		if lane > 0 {
			tl.Method = MethodMix
		}
		laneEnds[lane] = offset + clip.Duration

		tl.Entries = append(tl.Entries, Entry{Clip: clip, Offset: offset, Lane: lane})
		tl.TotalCovered += clip.Duration
		if end := offset + clip.Duration; end > tl.ResultDuration {
			tl.ResultDuration = end
		}
		if rawEnd := clip.End(); rawEnd.After(furthestEnd) {
			furthestEnd = rawEnd
		}
	}

	if len(tl.Entries) == 0 {
		return nil, ErrNothingFound
	}
	return tl, nil
}
