package soundbank

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voxhoard/voxhoard/internal/engine/ffmpeg"
)

// Prober inspects one media file. Satisfied by [ffmpeg.Prober].
type Prober interface {
	Probe(ctx context.Context, target string) (ffmpeg.ProbeInfo, error)
}

// Scanner reconciles the sound catalogue with the sounds directory.
type Scanner struct {
	store       Store
	prober      Prober
	dir         string
	log         *slog.Logger
	parallelism int
}

// ScannerOption configures a [Scanner].
type ScannerOption func(*Scanner)

// WithParallelism bounds how many files are probed concurrently.
func WithParallelism(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// NewScanner creates a Scanner over the given catalogue and directory.
func NewScanner(store Store, prober Prober, dir string, log *slog.Logger, opts ...ScannerOption) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	s := &Scanner{store: store, prober: prober, dir: dir, log: log, parallelism: 4}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan probes every file in the sounds directory, upserts its catalogue row
// and prunes rows whose files are gone. Unreadable files are skipped with a
// log line, mirroring the clip rescan contract.
func (s *Scanner) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("soundbank: read sounds dir: %w", err)
	}

	var (
		mu   sync.Mutex
		keep []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		g.Go(func() error {
			info, err := s.prober.Probe(ctx, filepath.Join(s.dir, name))
			if err != nil {
				s.log.Warn("unreadable sound file skipped", "file", name, "error", err)
				return nil
			}
			fi, err := os.Stat(filepath.Join(s.dir, name))
			if err != nil {
				return fmt.Errorf("soundbank: stat %q: %w", name, err)
			}

			ext := filepath.Ext(name)
			snd := Sound{
				Name:      strings.TrimSuffix(name, ext),
				Extension: strings.TrimPrefix(ext, "."),
				Duration:  info.Duration,
				ByteSize:  fi.Size(),
				BitRate:   info.BitRate,
			}
			if err := s.store.Upsert(ctx, &snd); err != nil {
				return err
			}

			mu.Lock()
			keep = append(keep, snd.Name)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pruned, err := s.store.Prune(ctx, keep)
	if err != nil {
		return err
	}
	s.log.Info("sound catalogue scanned", "sounds", len(keep), "pruned", pruned)
	return nil
}
