package clipstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scanner reconciles the recordings directory with the clip index. The
// directory is the source of truth; the database is a queryable cache of it.
type Scanner struct {
	store ScanStore
	dir   string
	log   *slog.Logger

	// parallelism bounds concurrent file stat calls during a scan.
	parallelism int
}

// ScanStore is the subset of [Store] a [Scanner] needs.
type ScanStore interface {
	Stats(ctx context.Context) (Stats, error)
	DeleteAll(ctx context.Context) error
	InsertBatch(ctx context.Context, clips []Clip) error
}

// NewScanner creates a Scanner over the given recordings directory.
func NewScanner(store ScanStore, dir string, parallelism int, log *slog.Logger) *Scanner {
	if parallelism <= 0 {
		parallelism = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{store: store, dir: dir, log: log, parallelism: parallelism}
}

// Scan walks the recordings directory and returns every parseable clip,
// ordered by (start time, speaker). Files that do not follow the filename
// contract are skipped with a warning, never treated as fatal.
func (s *Scanner) Scan(ctx context.Context) ([]Clip, error) {
	var names []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		names = append(names, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clipstore: scan %q: %w", s.dir, err)
	}

	var (
		mu    sync.Mutex
		clips []Clip
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, path := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			clip, err := ParseClipFilename(path)
			if err != nil {
				if errors.Is(err, ErrMalformedName) {
					s.log.Warn("skipping file with malformed name", "path", path, "error", err)
					return nil
				}
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("clipstore: stat %q: %w", path, err)
			}
			clip.ByteSize = info.Size()

			mu.Lock()
			clips = append(clips, clip)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(clips, func(i, j int) bool {
		if !clips[i].StartTime.Equal(clips[j].StartTime) {
			return clips[i].StartTime.Before(clips[j].StartTime)
		}
		return clips[i].SpeakerID < clips[j].SpeakerID
	})
	return clips, nil
}

// Consistent reports whether the clip index still matches the recordings
// directory. It compares row count, first/last start time and total duration
// against a fresh scan; any drift means files were added, removed or renamed
// behind the database's back.
func (s *Scanner) Consistent(ctx context.Context) (bool, error) {
	clips, err := s.Scan(ctx)
	if err != nil {
		return false, err
	}
	st, err := s.store.Stats(ctx)
	if err != nil {
		return false, err
	}

	if st.Count != int64(len(clips)) {
		s.log.Info("clip index count drifted", "indexed", st.Count, "on_disk", len(clips))
		return false, nil
	}
	if len(clips) == 0 {
		return true, nil
	}

	var sum time.Duration
	for _, c := range clips {
		sum += c.Duration
	}
	first, last := clips[0].StartTime, clips[len(clips)-1].StartTime

	// Start times are millisecond precision on both sides; compare exactly.
	ok := st.First.Equal(first) && st.Last.Equal(last) && st.SumDuration == sum
	if !ok {
		s.log.Info("clip index aggregates drifted",
			"indexed_first", st.First, "on_disk_first", first,
			"indexed_last", st.Last, "on_disk_last", last,
			"indexed_duration", st.SumDuration, "on_disk_duration", sum)
	}
	return ok, nil
}

// Rebuild drops the clip index (including the derived phrase index) and
// reingests every clip found on disk.
func (s *Scanner) Rebuild(ctx context.Context) error {
	clips, err := s.Scan(ctx)
	if err != nil {
		return err
	}
	if err := s.store.DeleteAll(ctx); err != nil {
		return err
	}
	if err := s.store.InsertBatch(ctx, clips); err != nil {
		return err
	}
	s.log.Info("clip index rebuilt", "clips", len(clips))
	return nil
}

// EnsureConsistent verifies the index against the directory and rebuilds it
// when they disagree. Returns whether a rebuild happened.
func (s *Scanner) EnsureConsistent(ctx context.Context) (bool, error) {
	ok, err := s.Consistent(ctx)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.Rebuild(ctx); err != nil {
		return false, err
	}
	return true, nil
}
