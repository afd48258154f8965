package clipstore

import (
	"errors"
	"testing"
	"time"
)

func TestParseClipFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		filename    string
		wantSpeaker string
		wantStart   time.Time
		wantDur     time.Duration
		wantErr     bool
	}{
		{
			name:        "regular name",
			filename:    "2019-03-07_21-15-42_118________myUserId65535_0000004260_anton.ogg",
			wantSpeaker: "myUserId65535",
			wantStart:   time.Date(2019, 3, 7, 21, 15, 42, 118e6, time.Local),
			wantDur:     4260 * time.Millisecond,
		},
		{
			name:        "full path",
			filename:    "/data/rec/2019-03-07_21-15-42_118________myUserId65535_0000004260_anton.ogg",
			wantSpeaker: "myUserId65535",
			wantStart:   time.Date(2019, 3, 7, 21, 15, 42, 118e6, time.Local),
			wantDur:     4260 * time.Millisecond,
		},
		{
			name:        "snowflake-length speaker fills the field",
			filename:    "2024-12-31_23-59-59_999_12345678901234567890_0000000040_x.opus",
			wantSpeaker: "12345678901234567890",
			wantStart:   time.Date(2024, 12, 31, 23, 59, 59, 999e6, time.Local),
			wantDur:     40 * time.Millisecond,
		},
		{
			name:        "display name containing underscores",
			filename:    "2020-01-01_00-00-00_000__________________abc_0000001000_some_user_name.ogg",
			wantSpeaker: "abc",
			wantStart:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local),
			wantDur:     time.Second,
		},
		{
			name:        "zero duration",
			filename:    "2020-01-01_00-00-00_000__________________abc_0000000000_n.ogg",
			wantSpeaker: "abc",
			wantStart:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local),
			wantDur:     0,
		},
		{
			name:     "too short",
			filename: "2020-01-01_00-00-00_000_abc.ogg",
			wantErr:  true,
		},
		{
			name:     "bad timestamp",
			filename: "2020-13-01_00-00-00_000__________________abc_0000001000_n.ogg",
			wantErr:  true,
		},
		{
			name:     "non-numeric duration",
			filename: "2020-01-01_00-00-00_000__________________abc_00000x1000_n.ogg",
			wantErr:  true,
		},
		{
			name:     "empty speaker field",
			filename: "2020-01-01_00-00-00_000______________________0000001000_n.ogg",
			wantErr:  true,
		},
		{
			name:     "not a clip at all",
			filename: "notes.txt",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clip, err := ParseClipFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClipFilename(%q) expected error, got %+v", tt.filename, clip)
				}
				if !errors.Is(err, ErrMalformedName) {
					t.Errorf("error = %v, want ErrMalformedName", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClipFilename(%q) unexpected error: %v", tt.filename, err)
			}
			if clip.SpeakerID != tt.wantSpeaker {
				t.Errorf("SpeakerID = %q, want %q", clip.SpeakerID, tt.wantSpeaker)
			}
			if !clip.StartTime.Equal(tt.wantStart) {
				t.Errorf("StartTime = %v, want %v", clip.StartTime, tt.wantStart)
			}
			if clip.Duration != tt.wantDur {
				t.Errorf("Duration = %v, want %v", clip.Duration, tt.wantDur)
			}
		})
	}
}

func TestFormatClipFilename_RoundTrip(t *testing.T) {
	t.Parallel()

	in := Clip{
		SpeakerID: "190733380799037441",
		StartTime: time.Date(2023, 6, 1, 18, 4, 5, 42e6, time.Local),
		Duration:  12345 * time.Millisecond,
	}
	name := FormatClipFilename(in, "Some User: weird/name?", "ogg")

	out, err := ParseClipFilename(name)
	if err != nil {
		t.Fatalf("round trip failed on %q: %v", name, err)
	}
	if out.SpeakerID != in.SpeakerID {
		t.Errorf("SpeakerID = %q, want %q", out.SpeakerID, in.SpeakerID)
	}
	if !out.StartTime.Equal(in.StartTime) {
		t.Errorf("StartTime = %v, want %v", out.StartTime, in.StartTime)
	}
	if out.Duration != in.Duration {
		t.Errorf("Duration = %v, want %v", out.Duration, in.Duration)
	}
}

func TestFormatClipFilename_Sanitizes(t *testing.T) {
	t.Parallel()

	c := Clip{SpeakerID: "u1", StartTime: time.Date(2023, 1, 1, 0, 0, 0, 0, time.Local)}
	name := FormatClipFilename(c, `a/b\c:d*e?f"g<h>i|j`, "ogg")
	for _, r := range `/\:*?"<>|` {
		for _, got := range name[len(clipTimeLayout):] {
			if got == r {
				t.Fatalf("FormatClipFilename left unsafe character %q in %q", r, name)
			}
		}
	}
}

func TestClipEnd(t *testing.T) {
	t.Parallel()

	c := Clip{
		StartTime: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
	want := time.Date(2023, 1, 1, 12, 0, 1, 500e6, time.UTC)
	if !c.End().Equal(want) {
		t.Errorf("End() = %v, want %v", c.End(), want)
	}
}
