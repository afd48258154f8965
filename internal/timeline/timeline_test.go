package timeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/voxhoard/voxhoard/internal/clipstore"
)

// memStore implements Store over in-memory slices, honoring the
// (start_time, id) ordering and filter contract of the real store.
type memStore struct {
	clips   []clipstore.Clip
	phrases []clipstore.Phrase

	queryErr error
}

func (m *memStore) QueryRange(_ context.Context, q clipstore.RangeQuery) ([]clipstore.Clip, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	var out []clipstore.Clip
	for _, c := range m.clips {
		if c.StartTime.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !c.StartTime.Before(q.To) {
			continue
		}
		if c.Duration < q.MinDuration {
			continue
		}
		if len(q.Speakers) > 0 && !contains(q.Speakers, c.SpeakerID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) Phrases(_ context.Context, q clipstore.PhraseQuery) ([]clipstore.Phrase, error) {
	var out []clipstore.Phrase
	for _, p := range m.phrases {
		if p.Listeners < q.MinListeners {
			continue
		}
		if len(q.Speakers) > 0 && !contains(q.Speakers, p.SpeakerID) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func seededRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSequence_OverlapAndGapNormalization(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	store := &memStore{clips: []clipstore.Clip{
		{ID: 1, SpeakerID: "a", StartTime: anchor, Duration: ms(500)},
		{ID: 2, SpeakerID: "a", StartTime: anchor.Add(ms(400)), Duration: ms(300)},
		{ID: 3, SpeakerID: "a", StartTime: anchor.Add(ms(900)), Duration: ms(200)},
	}}

	r := NewReconstructor(store, WithRand(seededRand()))
	tl, err := r.Sequence(context.Background(), SequenceQuery{
		Anchor:       anchor,
		GapStop:      ms(1000),
		GapNormalize: ms(50),
		Horizon:      time.Hour,
	})
	if err != nil {
		t.Fatalf("Sequence() unexpected error: %v", err)
	}

	if len(tl.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(tl.Entries))
	}
	if tl.Method != MethodMix {
		t.Errorf("Method = %q, want mix (clip 2 overlaps clip 1)", tl.Method)
	}

	wantLanes := []int{0, 1, 0}
	for i, want := range wantLanes {
		if tl.Entries[i].Lane != want {
			t.Errorf("entry %d lane = %d, want %d", i, tl.Entries[i].Lane, want)
		}
	}

	// Clip 3's raw gap is 200ms after the furthest end (700ms); normalization
	// replaces it with 50ms, so the offset lands at 750ms instead of 900ms.
	if got := tl.Entries[2].Offset; got != ms(750) {
		t.Errorf("entry 2 offset = %v, want 750ms", got)
	}
	if tl.GapsRemoved != ms(150) {
		t.Errorf("GapsRemoved = %v, want 150ms", tl.GapsRemoved)
	}
	if tl.GapsAdded != 0 {
		t.Errorf("GapsAdded = %v, want 0", tl.GapsAdded)
	}
	if tl.ResultDuration != ms(950) {
		t.Errorf("ResultDuration = %v, want 950ms", tl.ResultDuration)
	}
	if tl.TotalCovered != ms(1000) {
		t.Errorf("TotalCovered = %v, want 1000ms", tl.TotalCovered)
	}
	if tl.Lanes() != 2 {
		t.Errorf("Lanes() = %d, want 2", tl.Lanes())
	}
}

func TestSequence_NoSameLaneOverlap(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	// Three mutually overlapping clips force three lanes.
	store := &memStore{clips: []clipstore.Clip{
		{ID: 1, SpeakerID: "a", StartTime: anchor, Duration: ms(1000)},
		{ID: 2, SpeakerID: "b", StartTime: anchor.Add(ms(100)), Duration: ms(1000)},
		{ID: 3, SpeakerID: "c", StartTime: anchor.Add(ms(200)), Duration: ms(1000)},
	}}

	r := NewReconstructor(store)
	tl, err := r.Sequence(context.Background(), SequenceQuery{
		Anchor: anchor, GapStop: ms(1000), GapNormalize: ms(50), Horizon: time.Hour,
	})
	if err != nil {
		t.Fatalf("Sequence() unexpected error: %v", err)
	}

	type span struct{ start, end time.Duration }
	lanes := map[int][]span{}
	for _, e := range tl.Entries {
		for _, s := range lanes[e.Lane] {
			if e.Offset < s.end && e.Offset+e.Clip.Duration > s.start {
				t.Fatalf("lane %d holds overlapping entries", e.Lane)
			}
		}
		lanes[e.Lane] = append(lanes[e.Lane], span{e.Offset, e.Offset + e.Clip.Duration})
	}
	if tl.Lanes() != 3 {
		t.Errorf("Lanes() = %d, want 3", tl.Lanes())
	}
}

func TestSequence_StopsAtGap(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	store := &memStore{clips: []clipstore.Clip{
		{ID: 1, SpeakerID: "a", StartTime: anchor, Duration: ms(500)},
		{ID: 2, SpeakerID: "a", StartTime: anchor.Add(30 * time.Second), Duration: ms(500)},
	}}

	r := NewReconstructor(store)
	tl, err := r.Sequence(context.Background(), SequenceQuery{
		Anchor: anchor, GapStop: 20 * time.Second, GapNormalize: ms(50), Horizon: time.Hour,
	})
	if err != nil {
		t.Fatalf("Sequence() unexpected error: %v", err)
	}
	if len(tl.Entries) != 1 {
		t.Fatalf("got %d entries, want 1 (silence gap should stop the window)", len(tl.Entries))
	}
}

func TestSequence_StopsAtTargetDuration(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	var clips []clipstore.Clip
	for i := range 10 {
		clips = append(clips, clipstore.Clip{
			ID: int64(i + 1), SpeakerID: "a",
			StartTime: anchor.Add(time.Duration(i) * time.Second),
			Duration:  ms(900),
		})
	}
	store := &memStore{clips: clips}

	r := NewReconstructor(store)
	tl, err := r.Sequence(context.Background(), SequenceQuery{
		Anchor: anchor, TargetDuration: 3 * time.Second,
		GapStop: 20 * time.Second, GapNormalize: ms(100), Horizon: time.Hour,
	})
	if err != nil {
		t.Fatalf("Sequence() unexpected error: %v", err)
	}
	if len(tl.Entries) >= 10 {
		t.Fatalf("target duration did not bound the window: %d entries", len(tl.Entries))
	}
	if tl.ResultDuration < 3*time.Second {
		t.Errorf("ResultDuration = %v, want >= target 3s", tl.ResultDuration)
	}
}

func TestSequence_NothingFound(t *testing.T) {
	t.Parallel()

	r := NewReconstructor(&memStore{})
	_, err := r.Sequence(context.Background(), SequenceQuery{
		Anchor: time.Now(), GapStop: time.Second, GapNormalize: ms(50), Horizon: time.Hour,
	})
	if !errors.Is(err, ErrNothingFound) {
		t.Fatalf("Sequence() error = %v, want ErrNothingFound", err)
	}
}

func TestSequence_StoreError(t *testing.T) {
	t.Parallel()

	r := NewReconstructor(&memStore{queryErr: errors.New("store down")})
	_, err := r.Sequence(context.Background(), SequenceQuery{Anchor: time.Now(), Horizon: time.Hour})
	if err == nil || errors.Is(err, ErrNothingFound) {
		t.Fatalf("Sequence() error = %v, want wrapped store error", err)
	}
}

func TestPhrase_EmptyIndex(t *testing.T) {
	t.Parallel()

	// A speaker with clips but no qualifying phrase must yield NotFound, not
	// an empty timeline and not a retry loop.
	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	store := &memStore{clips: []clipstore.Clip{
		{ID: 1, SpeakerID: "a", StartTime: anchor, Duration: ms(100)},
		{ID: 2, SpeakerID: "a", StartTime: anchor.Add(ms(200)), Duration: ms(50)},
	}}

	r := NewReconstructor(store, WithRand(seededRand()))
	_, err := r.Phrase(context.Background(), PhraseQuery{Speakers: []string{"a"}})
	if !errors.Is(err, ErrNothingFound) {
		t.Fatalf("Phrase() error = %v, want ErrNothingFound", err)
	}
}

func TestPhrase_MaterializesClipRun(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	store := &memStore{
		clips: []clipstore.Clip{
			{ID: 1, SpeakerID: "a", StartTime: anchor, Duration: ms(1500)},
			{ID: 2, SpeakerID: "a", StartTime: anchor.Add(ms(1700)), Duration: ms(1800)},
			{ID: 3, SpeakerID: "b", StartTime: anchor.Add(ms(100)), Duration: ms(4000)},
		},
		phrases: []clipstore.Phrase{{
			ID: 1, SpeakerID: "a",
			StartTime: anchor, EndTime: anchor.Add(ms(3500)),
			Duration: ms(3300), ClipCount: 2, Listeners: 6,
		}},
	}

	r := NewReconstructor(store, WithRand(seededRand()))
	tl, err := r.Phrase(context.Background(), PhraseQuery{Speakers: []string{"a"}, MinListeners: 5})
	if err != nil {
		t.Fatalf("Phrase() unexpected error: %v", err)
	}

	if tl.Method != MethodConcat {
		t.Errorf("Method = %q, want concat", tl.Method)
	}
	if len(tl.Entries) != 2 {
		t.Fatalf("got %d entries, want 2 (speaker b's clip excluded)", len(tl.Entries))
	}
	for i, e := range tl.Entries {
		if e.Lane != 0 {
			t.Errorf("entry %d lane = %d, want 0 (phrase mode is single-lane)", i, e.Lane)
		}
	}
	if tl.Entries[1].Offset != ms(1700) {
		t.Errorf("entry 1 offset = %v, want raw 1700ms (no normalization)", tl.Entries[1].Offset)
	}
	if tl.ResultDuration != ms(3500) {
		t.Errorf("ResultDuration = %v, want 3500ms", tl.ResultDuration)
	}
}

func TestPhrase_ListenerFilter(t *testing.T) {
	t.Parallel()

	anchor := time.Date(2026, 4, 1, 20, 0, 0, 0, time.UTC)
	store := &memStore{phrases: []clipstore.Phrase{
		{ID: 1, SpeakerID: "a", StartTime: anchor, EndTime: anchor.Add(ms(4000)), Duration: ms(3500), Listeners: 2},
	}}

	r := NewReconstructor(store, WithRand(seededRand()))
	_, err := r.Phrase(context.Background(), PhraseQuery{MinListeners: 5})
	if !errors.Is(err, ErrNothingFound) {
		t.Fatalf("Phrase() error = %v, want ErrNothingFound for under-listened phrases", err)
	}
}

func TestPickWeighted_Distribution(t *testing.T) {
	t.Parallel()

	// With a 9:1 duration split the heavier phrase must dominate the picks.
	phrases := []clipstore.Phrase{
		{ID: 1, Duration: ms(9000)},
		{ID: 2, Duration: ms(1000)},
	}
	r := NewReconstructor(&memStore{}, WithRand(seededRand()))

	counts := [2]int{}
	for range 1000 {
		counts[r.pickWeighted(phrases)]++
	}
	if counts[0] < 800 {
		t.Errorf("heavy phrase picked %d/1000 times, want > 800", counts[0])
	}
	if counts[1] == 0 {
		t.Error("light phrase was never picked; every candidate must stay reachable")
	}
}
