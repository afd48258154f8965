// Package app wires all Voxhoard subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects the
// stores, scanners and the playback pipeline, Start runs the startup
// consistency pass and begins serving, and Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithClipStore,
// WithEngine, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxhoard/voxhoard/internal/audiograph"
	"github.com/voxhoard/voxhoard/internal/clipstore"
	"github.com/voxhoard/voxhoard/internal/config"
	"github.com/voxhoard/voxhoard/internal/engine/ffmpeg"
	"github.com/voxhoard/voxhoard/internal/health"
	"github.com/voxhoard/voxhoard/internal/observe"
	"github.com/voxhoard/voxhoard/internal/playback"
	"github.com/voxhoard/voxhoard/internal/remote"
	"github.com/voxhoard/voxhoard/internal/sessions"
	"github.com/voxhoard/voxhoard/internal/soundbank"
	"github.com/voxhoard/voxhoard/internal/timeline"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	log *slog.Logger

	pool *pgxpool.Pool

	// Stores.
	Clips        clipstore.Store
	Sounds       soundbank.Store
	SessionStore *sessions.PostgresStore

	// Derived-state maintenance.
	Scanner    *clipstore.Scanner
	SoundScan  *soundbank.Scanner
	Aggregator *sessions.Aggregator

	// Reconstruction and playback pipeline.
	Reconstructor *timeline.Reconstructor
	Builder       *audiograph.Builder
	Resolver      *remote.Resolver
	Prober        *ffmpeg.Prober
	Engine        playback.Engine
	Controller    *playback.Controller

	httpSrv *http.Server

	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClipStore injects a clip store instead of creating a postgres one.
func WithClipStore(s clipstore.Store) Option {
	return func(a *App) { a.Clips = s }
}

// WithSoundStore injects a sound catalogue instead of creating a postgres one.
func WithSoundStore(s soundbank.Store) Option {
	return func(a *App) { a.Sounds = s }
}

// WithEngine injects a playback engine instead of creating the ffmpeg one.
func WithEngine(e playback.Engine) Option {
	return func(a *App) { a.Engine = e }
}

// New creates an App by wiring all subsystems together. The transport and
// joiner belong to the platform gateway owned by main; headless runs (archive
// maintenance without a voice connection) pass the no-op implementations.
func New(ctx context.Context, cfg *config.Config, transport ffmpeg.Transport, joiner playback.Joiner, log *slog.Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	for _, o := range opts {
		o(a)
	}
	if transport == nil {
		transport = nopTransport{}
	}
	if joiner == nil {
		joiner = nopJoiner{}
	}

	if err := a.initStores(ctx); err != nil {
		return nil, err
	}

	// Derived-state maintenance.
	a.Scanner = clipstore.NewScanner(a.Clips, cfg.Folders.Recordings,
		cfg.Recording.ScanParallelism, log)
	a.Aggregator = sessions.NewAggregator(a.Clips, a.Clips, a.SessionStore, sessions.Config{
		SessionGap:        time.Duration(cfg.Archive.SessionGapSec) * time.Second,
		MinSpeakers:       cfg.Archive.SessionMinSpeakers,
		PhraseMinDuration: time.Duration(cfg.Archive.PhraseMinDurationMs) * time.Millisecond,
		PhraseAllowedGap:  time.Duration(cfg.Archive.PhraseAllowedGapMs) * time.Millisecond,
	}, log)

	// Reconstruction and playback pipeline.
	a.Reconstructor = timeline.NewReconstructor(a.Clips)
	a.Builder = audiograph.NewBuilder(cfg.Folders.Recordings,
		audiograph.WithMaxEffects(cfg.Archive.MaxEffects))
	a.Prober = ffmpeg.NewProber(cfg.Engine.FfprobePath)
	a.Resolver = remote.NewResolver(cfg.Remote.YtDlpPath, log,
		remote.WithTimeout(time.Duration(cfg.Remote.MetadataTimeoutMs)*time.Millisecond))
	if a.Engine == nil {
		eng := ffmpeg.New(cfg.Engine.FfmpegPath, a.Builder, transport, log)
		a.Engine = eng
		a.closers = append(a.closers, eng.Close)
	}
	a.Controller = playback.NewController(a.Engine, joiner, log,
		playback.WithJoinDebounce(time.Duration(cfg.Playback.JoinDebounceMs)*time.Millisecond),
		playback.WithSpacing(time.Duration(cfg.Playback.PlaybackSpacingMs)*time.Millisecond),
		playback.WithVolumeRamp(cfg.Playback.VolumeRampSteps,
			time.Duration(cfg.Playback.VolumeRampMs)*time.Millisecond),
	)
	a.closers = append(a.closers, a.Controller.Close)

	a.SoundScan = soundbank.NewScanner(a.Sounds, a.Prober, cfg.Folders.Sounds, log,
		soundbank.WithParallelism(cfg.Engine.ParallelLimit))

	return a, nil
}

// initStores connects to postgres and migrates the schemas. Skipped entirely
// for injected stores.
func (a *App) initStores(ctx context.Context) error {
	if a.Clips != nil && a.Sounds != nil {
		return nil
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("app: storage.postgres_dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("app: connect postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	clips := clipstore.NewPostgresStore(pool,
		clipstore.WithBatchSize(a.cfg.Storage.InsertsPerTransaction))
	if err := clips.Migrate(ctx); err != nil {
		return err
	}
	a.Clips = clips

	sounds := soundbank.NewPostgresStore(pool)
	if err := sounds.Migrate(ctx); err != nil {
		return err
	}
	a.Sounds = sounds

	a.SessionStore = sessions.NewPostgresStore(pool)
	if err := a.SessionStore.Migrate(ctx); err != nil {
		return err
	}
	return nil
}

// Start runs the startup maintenance pass and begins serving the metrics
// endpoint. The archive consistency check compares the recordings directory
// against the store and triggers a full reingest plus a derived-state
// rebuild on mismatch.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Recording.CheckFolderOnStartup == nil || *a.cfg.Recording.CheckFolderOnStartup {
		rebuilt, err := a.Scanner.EnsureConsistent(ctx)
		if err != nil {
			return fmt.Errorf("app: archive consistency check: %w", err)
		}
		if rebuilt {
			if err := a.Aggregator.Rebuild(ctx); err != nil {
				return err
			}
		}
	}

	if err := a.SoundScan.Scan(ctx); err != nil {
		return err
	}

	if addr := a.cfg.Server.MetricsAddr; addr != "" {
		a.serveHTTP(addr)
	}
	return nil
}

// serveHTTP starts the metrics/health endpoint in the background.
func (a *App) serveHTTP(addr string) {
	checks := health.New(
		health.Checker{Name: "database", Check: a.pingStore},
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(ctx)
	})

	go func() {
		a.log.Info("metrics endpoint listening", "addr", addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics endpoint failed", "error", err)
		}
	}()
}

// SequenceQuery returns a sequence reconstruction query prefilled with the
// configured archive thresholds. Callers fill in the anchor, target duration
// and speaker filter before passing it to the Reconstructor.
func (a *App) SequenceQuery() timeline.SequenceQuery {
	return timeline.SequenceQuery{
		GapStop:         time.Duration(a.cfg.Archive.GapStopSec) * time.Second,
		GapNormalize:    time.Duration(a.cfg.Archive.GapNormalizeMs) * time.Millisecond,
		Horizon:         time.Duration(a.cfg.Archive.SearchHorizonHours) * time.Hour,
		MinClipDuration: time.Duration(a.cfg.Recording.MinClipDurationMs) * time.Millisecond,
	}
}

// PhraseQuery returns a phrase pick query prefilled with the configured
// listener and clip thresholds. Callers fill in the speaker filter.
func (a *App) PhraseQuery() timeline.PhraseQuery {
	return timeline.PhraseQuery{
		MinListeners:    a.cfg.Archive.PhraseMinListeners,
		MinClipDuration: time.Duration(a.cfg.Recording.MinClipDurationMs) * time.Millisecond,
	}
}

// RequestVolume resolves the playback volume multiplier for a user: their
// stored preference scaled by the configured global limit.
func (a *App) RequestVolume(ctx context.Context, userID string) (float64, error) {
	personal, err := a.Sounds.UserVolume(ctx, userID)
	if err != nil {
		return 0, err
	}
	return soundbank.EffectiveVolume(personal, a.cfg.Playback.GlobalVolume), nil
}

// ResetUserVolume stores the configured default volume as the user's
// preference, matching a volume command invoked without a value.
func (a *App) ResetUserVolume(ctx context.Context, userID string) error {
	return a.Sounds.SetUserVolume(ctx, userID, a.cfg.Playback.DefaultVolume)
}

// pingStore is the readiness probe for the clip store.
func (a *App) pingStore(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Ping(ctx)
}

// Shutdown tears subsystems down in reverse construction order. Safe to call
// more than once.
func (a *App) Shutdown(_ context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// nopTransport discards frames. Used when no voice gateway is configured.
type nopTransport struct{}

func (nopTransport) Speaking(bool) error { return nil }
func (nopTransport) Send([]byte) error   { return nil }

// nopJoiner accepts joins without an external connection.
type nopJoiner struct{}

func (nopJoiner) Join(context.Context, string) error { return nil }
func (nopJoiner) Leave(context.Context) error        { return nil }
