// Package sessions derives talk sessions and the phrase index from the clip
// archive. Both are rebuildable caches: a full rebuild recomputes them from
// the clip store, and the ingest path keeps the phrase index current without
// rescanning.
package sessions

import (
	"slices"
	"time"

	"github.com/voxhoard/voxhoard/internal/clipstore"
)

// TalkSession is one contiguous window of multi-speaker activity.
type TalkSession struct {
	ID int64

	// Start and End bound the window; End is the latest clip end inside it.
	Start time.Time
	End   time.Time

	// SpeakerIDs are the distinct speakers heard in the window, sorted.
	SpeakerIDs []string

	// ClipCount is how many clips the window covers.
	ClipCount int
}

// BuildSessions groups clips (which must be ordered by start time) into talk
// sessions. A session ends when the silence before the next clip exceeds
// gap; groups with fewer than minSpeakers distinct speakers are dropped.
func BuildSessions(clips []clipstore.Clip, gap time.Duration, minSpeakers int) []TalkSession {
	var (
		out []TalkSession
		cur []clipstore.Clip
		end time.Time
	)
	flush := func() {
		if s, ok := makeSession(cur, minSpeakers); ok {
			out = append(out, s)
		}
		cur = cur[:0]
	}
	for _, c := range clips {
		if len(cur) > 0 && c.StartTime.Sub(end) > gap {
			flush()
		}
		cur = append(cur, c)
		if c.End().After(end) {
			end = c.End()
		}
	}
	flush()
	return out
}

func makeSession(clips []clipstore.Clip, minSpeakers int) (TalkSession, bool) {
	if len(clips) == 0 {
		return TalkSession{}, false
	}
	var (
		speakers = make(map[string]struct{}, 4)
		end      time.Time
	)
	for _, c := range clips {
		speakers[c.SpeakerID] = struct{}{}
		if c.End().After(end) {
			end = c.End()
		}
	}
	if len(speakers) < minSpeakers {
		return TalkSession{}, false
	}
	ids := make([]string, 0, len(speakers))
	for id := range speakers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return TalkSession{
		Start:      clips[0].StartTime,
		End:        end,
		SpeakerIDs: ids,
		ClipCount:  len(clips),
	}, true
}

// phraseRun is the running buffer of one speaker's consecutive clips.
type phraseRun struct {
	clips []clipstore.Clip
}

func (r *phraseRun) empty() bool { return len(r.clips) == 0 }

func (r *phraseRun) lastEnd() time.Time {
	return r.clips[len(r.clips)-1].End()
}

func (r *phraseRun) add(c clipstore.Clip) {
	r.clips = append(r.clips, c)
}

// flush clears the buffer and returns the phrase it formed, if the run's
// cumulative speech duration reached minDuration.
func (r *phraseRun) flush(minDuration time.Duration) (clipstore.Phrase, bool) {
	defer func() { r.clips = r.clips[:0] }()
	if len(r.clips) == 0 {
		return clipstore.Phrase{}, false
	}
	var (
		total     time.Duration
		listeners = r.clips[0].Listeners
	)
	for _, c := range r.clips {
		total += c.Duration
		if c.Listeners < listeners {
			listeners = c.Listeners
		}
	}
	if total < minDuration {
		return clipstore.Phrase{}, false
	}
	return clipstore.Phrase{
		SpeakerID: r.clips[0].SpeakerID,
		StartTime: r.clips[0].StartTime,
		EndTime:   r.lastEnd(),
		Duration:  total,
		ClipCount: len(r.clips),
		Listeners: listeners,
	}, true
}

// BuildPhrases computes the phrase index for clips ordered by start time.
// Each speaker's clips form runs split wherever the inter-clip gap exceeds
// allowedGap; a run becomes a phrase when its cumulative speech duration
// reaches minDuration.
func BuildPhrases(clips []clipstore.Clip, minDuration, allowedGap time.Duration) []clipstore.Phrase {
	var (
		out  []clipstore.Phrase
		runs = map[string]*phraseRun{}
	)
	for _, c := range clips {
		run, ok := runs[c.SpeakerID]
		if !ok {
			run = &phraseRun{}
			runs[c.SpeakerID] = run
		}
		if !run.empty() && c.StartTime.Sub(run.lastEnd()) > allowedGap {
			if p, ok := run.flush(minDuration); ok {
				out = append(out, p)
			}
		}
		run.add(c)
	}
	for _, run := range runs {
		if p, ok := run.flush(minDuration); ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b clipstore.Phrase) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}
