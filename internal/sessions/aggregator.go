package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhoard/voxhoard/internal/clipstore"
	"github.com/voxhoard/voxhoard/internal/observe"
)

// ClipSource is the clip store subset the aggregator reads from.
type ClipSource interface {
	QueryRange(ctx context.Context, q clipstore.RangeQuery) ([]clipstore.Clip, error)
}

// PhraseSink is the clip store subset the aggregator writes phrases to.
type PhraseSink interface {
	ReplacePhrases(ctx context.Context, phrases []clipstore.Phrase) error
	InsertPhrase(ctx context.Context, p *clipstore.Phrase) error
}

// SessionSink persists derived talk sessions.
type SessionSink interface {
	ReplaceSessions(ctx context.Context, sessions []TalkSession) error
}

// Config are the aggregation thresholds.
type Config struct {
	// SessionGap splits talk sessions when inter-clip silence exceeds it.
	SessionGap time.Duration

	// MinSpeakers is the minimum distinct speaker count for a talk session.
	MinSpeakers int

	// PhraseMinDuration is the minimum cumulative speech duration of a
	// phrase.
	PhraseMinDuration time.Duration

	// PhraseAllowedGap is the maximum silence between two clips of one
	// phrase.
	PhraseAllowedGap time.Duration
}

// Aggregator derives talk sessions and phrases from the clip archive. The
// ingest path carries per-speaker run buffers so newly captured clips extend
// the phrase index without a rescan.
type Aggregator struct {
	clips    ClipSource
	phrases  PhraseSink
	sessions SessionSink
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics

	mu   sync.Mutex
	runs map[string]*phraseRun
}

// NewAggregator creates an Aggregator over the given stores.
func NewAggregator(clips ClipSource, phrases PhraseSink, sessions SessionSink, cfg Config, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		clips:    clips,
		phrases:  phrases,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		metrics:  observe.DefaultMetrics(),
		runs:     map[string]*phraseRun{},
	}
}

// Rebuild recomputes all derived state from the clip store: talk sessions
// first, then the phrase index. Ingest run buffers are reset; a rebuild has
// already flushed every run they could form.
func (a *Aggregator) Rebuild(ctx context.Context) error {
	start := time.Now()
	clips, err := a.clips.QueryRange(ctx, clipstore.RangeQuery{})
	if err != nil {
		return fmt.Errorf("sessions: load clips: %w", err)
	}

	talk := BuildSessions(clips, a.cfg.SessionGap, a.cfg.MinSpeakers)
	if err := a.sessions.ReplaceSessions(ctx, talk); err != nil {
		return fmt.Errorf("sessions: persist talk sessions: %w", err)
	}

	phrases := BuildPhrases(clips, a.cfg.PhraseMinDuration, a.cfg.PhraseAllowedGap)
	if err := a.phrases.ReplacePhrases(ctx, phrases); err != nil {
		return fmt.Errorf("sessions: persist phrases: %w", err)
	}
	a.metrics.PhrasesDetected.Add(ctx, int64(len(phrases)))

	a.mu.Lock()
	a.runs = map[string]*phraseRun{}
	a.mu.Unlock()

	a.log.Info("derived state rebuilt",
		"clips", len(clips),
		"talk_sessions", len(talk),
		"phrases", len(phrases),
		"took", time.Since(start))
	return nil
}

// Ingest feeds one newly appended clip through the phrase run buffer of its
// speaker. A run only flushes once a later clip opens a gap, so the most
// recent utterances stay buffered until the speaker pauses.
func (a *Aggregator) Ingest(ctx context.Context, c clipstore.Clip) error {
	a.mu.Lock()
	run, ok := a.runs[c.SpeakerID]
	if !ok {
		run = &phraseRun{}
		a.runs[c.SpeakerID] = run
	}

	var flushed *clipstore.Phrase
	if !run.empty() && c.StartTime.Sub(run.lastEnd()) > a.cfg.PhraseAllowedGap {
		if p, ok := run.flush(a.cfg.PhraseMinDuration); ok {
			flushed = &p
		}
	}
	run.add(c)
	a.mu.Unlock()
	a.metrics.ClipsIngested.Add(ctx, 1)

	if flushed == nil {
		return nil
	}
	if err := a.phrases.InsertPhrase(ctx, flushed); err != nil {
		return fmt.Errorf("sessions: persist phrase: %w", err)
	}
	a.metrics.PhrasesDetected.Add(ctx, 1)
	a.log.Debug("phrase detected",
		"speaker_id", flushed.SpeakerID,
		"duration", flushed.Duration,
		"clips", flushed.ClipCount)
	return nil
}
