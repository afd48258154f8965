package clipstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// memScanStore implements ScanStore in memory for scanner tests.
type memScanStore struct {
	stats    Stats
	statsErr error

	deleted  bool
	inserted []Clip
}

func (m *memScanStore) Stats(context.Context) (Stats, error) { return m.stats, m.statsErr }
func (m *memScanStore) DeleteAll(context.Context) error {
	m.deleted = true
	return nil
}
func (m *memScanStore) InsertBatch(_ context.Context, clips []Clip) error {
	m.inserted = append(m.inserted, clips...)
	return nil
}

func writeClipFile(t *testing.T, dir string, c Clip, displayName string, size int) {
	t.Helper()
	name := FormatClipFilename(c, displayName, "ogg")
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.Local)

	writeClipFile(t, dir, Clip{SpeakerID: "u2", StartTime: base.Add(time.Second), Duration: 900 * time.Millisecond}, "beta", 300)
	writeClipFile(t, dir, Clip{SpeakerID: "u1", StartTime: base, Duration: 1200 * time.Millisecond}, "alpha", 100)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewScanner(&memScanStore{}, dir, 2, testLogger())
	clips, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() unexpected error: %v", err)
	}
	if len(clips) != 2 {
		t.Fatalf("Scan() returned %d clips, want 2 (malformed file skipped)", len(clips))
	}
	if clips[0].SpeakerID != "u1" || clips[1].SpeakerID != "u2" {
		t.Errorf("clips not ordered by start time: %q, %q", clips[0].SpeakerID, clips[1].SpeakerID)
	}
	if clips[0].ByteSize != 100 {
		t.Errorf("ByteSize = %d, want 100", clips[0].ByteSize)
	}
}

func TestScanner_Consistent(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.Local)

	t.Run("matching aggregates", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeClipFile(t, dir, Clip{SpeakerID: "u1", StartTime: base, Duration: time.Second}, "a", 10)
		writeClipFile(t, dir, Clip{SpeakerID: "u2", StartTime: base.Add(time.Minute), Duration: 2 * time.Second}, "b", 10)

		store := &memScanStore{stats: Stats{
			Count:       2,
			First:       base,
			Last:        base.Add(time.Minute),
			SumDuration: 3 * time.Second,
		}}
		s := NewScanner(store, dir, 2, testLogger())
		ok, err := s.Consistent(context.Background())
		if err != nil {
			t.Fatalf("Consistent() unexpected error: %v", err)
		}
		if !ok {
			t.Error("Consistent() = false, want true")
		}
	})

	t.Run("count drift", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		writeClipFile(t, dir, Clip{SpeakerID: "u1", StartTime: base, Duration: time.Second}, "a", 10)

		store := &memScanStore{stats: Stats{Count: 5}}
		s := NewScanner(store, dir, 2, testLogger())
		ok, err := s.Consistent(context.Background())
		if err != nil {
			t.Fatalf("Consistent() unexpected error: %v", err)
		}
		if ok {
			t.Error("Consistent() = true despite count drift")
		}
	})

	t.Run("empty dir and empty index agree", func(t *testing.T) {
		t.Parallel()

		s := NewScanner(&memScanStore{}, t.TempDir(), 2, testLogger())
		ok, err := s.Consistent(context.Background())
		if err != nil {
			t.Fatalf("Consistent() unexpected error: %v", err)
		}
		if !ok {
			t.Error("Consistent() = false for empty dir and empty index")
		}
	})
}

func TestScanner_EnsureConsistent(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.Local)
	dir := t.TempDir()
	writeClipFile(t, dir, Clip{SpeakerID: "u1", StartTime: base, Duration: time.Second}, "a", 10)
	writeClipFile(t, dir, Clip{SpeakerID: "u2", StartTime: base.Add(time.Second), Duration: time.Second}, "b", 10)

	// Index claims one clip; disk has two.
	store := &memScanStore{stats: Stats{Count: 1, First: base, Last: base, SumDuration: time.Second}}
	s := NewScanner(store, dir, 2, testLogger())

	rebuilt, err := s.EnsureConsistent(context.Background())
	if err != nil {
		t.Fatalf("EnsureConsistent() unexpected error: %v", err)
	}
	if !rebuilt {
		t.Fatal("EnsureConsistent() = false, want rebuild")
	}
	if !store.deleted {
		t.Error("rebuild should clear the index first")
	}
	if len(store.inserted) != 2 {
		t.Errorf("rebuild inserted %d clips, want 2", len(store.inserted))
	}
}
