package soundbank

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/voxhoard/voxhoard/internal/engine/ffmpeg"
)

type memBank struct {
	mu     sync.Mutex
	sounds map[string]Sound
	kept   []string
}

func newMemBank() *memBank {
	return &memBank{sounds: map[string]Sound{}}
}

func (m *memBank) Upsert(_ context.Context, s *Sound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sounds[s.Name] = *s
	return nil
}

func (m *memBank) Prune(_ context.Context, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kept = slices.Clone(keep)
	var pruned int64
	for name := range m.sounds {
		if !slices.Contains(keep, name) {
			delete(m.sounds, name)
			pruned++
		}
	}
	return pruned, nil
}

func (m *memBank) All(_ context.Context) ([]Sound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sound, 0, len(m.sounds))
	for _, s := range m.sounds {
		out = append(out, s)
	}
	return out, nil
}

func (m *memBank) ByName(_ context.Context, name string) (Sound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sounds[name]
	if !ok {
		return Sound{}, ErrNotFound
	}
	return s, nil
}

func (m *memBank) IncrementPlayed(context.Context, string) error        { return nil }
func (m *memBank) SetVolume(context.Context, string, float64) error     { return nil }
func (m *memBank) UserVolume(context.Context, string) (float64, error)  { return 100, nil }
func (m *memBank) SetUserVolume(context.Context, string, float64) error { return nil }

type stubProber struct {
	infos map[string]ffmpeg.ProbeInfo
}

func (p *stubProber) Probe(_ context.Context, target string) (ffmpeg.ProbeInfo, error) {
	info, ok := p.infos[filepath.Base(target)]
	if !ok {
		return ffmpeg.ProbeInfo{}, errors.New("unreadable")
	}
	return info, nil
}

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"horn.mp3", "bell.ogg", "broken.wav"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	store := newMemBank()
	// A stale row whose file no longer exists.
	store.sounds["gone"] = Sound{Name: "gone", Extension: "mp3"}

	prober := &stubProber{infos: map[string]ffmpeg.ProbeInfo{
		"horn.mp3": {Duration: 1200 * time.Millisecond, Format: "mp3", BitRate: 128000},
		"bell.ogg": {Duration: 700 * time.Millisecond, Format: "ogg", BitRate: 96000},
	}}

	scanner := NewScanner(store, prober, dir, slog.New(slog.DiscardHandler), WithParallelism(2))
	if err := scanner.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	horn, err := store.ByName(context.Background(), "horn")
	if err != nil {
		t.Fatalf("ByName(horn): %v", err)
	}
	if horn.Extension != "mp3" || horn.Duration != 1200*time.Millisecond || horn.BitRate != 128000 {
		t.Errorf("horn = %+v", horn)
	}
	if horn.ByteSize != int64(len("data")) {
		t.Errorf("horn.ByteSize = %d", horn.ByteSize)
	}

	// Unreadable files are skipped, stale rows pruned.
	if _, err := store.ByName(context.Background(), "broken"); !errors.Is(err, ErrNotFound) {
		t.Error("unreadable file must not be catalogued")
	}
	if _, err := store.ByName(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Error("stale row must be pruned")
	}
	if len(store.kept) != 2 {
		t.Errorf("kept = %v, want 2 names", store.kept)
	}
}
