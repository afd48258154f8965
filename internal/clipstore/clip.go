// Package clipstore is the append-only catalogue of captured voice clips and
// the derived phrase index. The capture side writes one file per utterance
// into the recordings directory; this package indexes those files in
// PostgreSQL and answers the ordered range queries the timeline
// reconstructor is built on.
package clipstore

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Clip is one captured audio segment from a single speaker. Clips are
// immutable once written.
type Clip struct {
	// ID is the insertion-ordered row id. It breaks ties between clips with
	// equal start times.
	ID int64

	// SpeakerID is the platform user id of the speaker.
	SpeakerID string

	// Path is the clip's filename inside the recordings directory.
	Path string

	// StartTime is the absolute capture start, millisecond precision.
	StartTime time.Time

	// Duration is the clip length. Always >= 0.
	Duration time.Duration

	// ByteSize is the stored file size in bytes.
	ByteSize int64

	// SourceChannelID is the voice channel the clip was captured on.
	SourceChannelID string

	// Listeners is the number of users on the channel at capture time.
	// Used by phrase selection filters.
	Listeners int
}

// End returns the clip's end time (start + duration).
func (c Clip) End() time.Time {
	return c.StartTime.Add(c.Duration)
}

// Phrase is a short gap-bounded run of one speaker's clips whose cumulative
// speech duration crossed the configured minimum. Phrases are derived data,
// rebuilt from clips at any time.
type Phrase struct {
	ID        int64
	SpeakerID string

	// StartTime and EndTime bound the clip run the phrase was built from.
	StartTime time.Time
	EndTime   time.Time

	// Duration is the cumulative speech duration of the run (gaps excluded).
	Duration time.Duration

	// ClipCount is how many clips the run consists of.
	ClipCount int

	// Listeners is the smallest concurrent-listener count observed across
	// the run's clips.
	Listeners int
}

// ---------------------------------------------------------------------------
// Clip filename contract
// ---------------------------------------------------------------------------

// The capture side encodes clip metadata in the filename:
//
//	2019-03-07_21-15-42_118________myUserId65535_0000004260_anton.ogg
//	└── start time, ms ──┘ └── speaker, 20 ────┘ └─ dur ms ┘ └ name ┘
//
// The speaker field is left-padded with '_' to 20 characters, the duration
// with '0' to 10. Parsing is positional, so speaker ids containing '_'
// survive the round trip as long as they fit the field.

const (
	clipTimeLayout   = "2006-01-02_15-04-05_000"
	speakerFieldLen  = 20
	durationFieldLen = 10
)

// ParseClipFilename decodes the clip filename contract. It accepts a bare
// filename or a full path and returns a Clip with SpeakerID, StartTime and
// Duration populated. Returns [ErrMalformedName] (wrapped) when the name
// does not follow the contract; callers skip such files with a log line.
func ParseClipFilename(name string) (Clip, error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	// timestamp + '_' + speaker + '_' + duration + '_' + at least one rune of name
	minLen := len(clipTimeLayout) + 1 + speakerFieldLen + 1 + durationFieldLen + 2
	if len(stem) < minLen {
		return Clip{}, fmt.Errorf("clipstore: filename %q too short: %w", base, ErrMalformedName)
	}

	ts := stem[:len(clipTimeLayout)]
	start, err := time.ParseInLocation(clipTimeLayout, ts, time.Local)
	if err != nil {
		return Clip{}, fmt.Errorf("clipstore: filename %q: bad timestamp: %w", base, ErrMalformedName)
	}

	rest := stem[len(clipTimeLayout):]
	if rest[0] != '_' {
		return Clip{}, fmt.Errorf("clipstore: filename %q: missing field separator: %w", base, ErrMalformedName)
	}
	rest = rest[1:]

	speaker := strings.TrimLeft(rest[:speakerFieldLen], "_")
	if speaker == "" {
		return Clip{}, fmt.Errorf("clipstore: filename %q: empty speaker field: %w", base, ErrMalformedName)
	}
	rest = rest[speakerFieldLen:]
	if rest[0] != '_' {
		return Clip{}, fmt.Errorf("clipstore: filename %q: missing field separator: %w", base, ErrMalformedName)
	}
	rest = rest[1:]

	durMs, err := strconv.ParseInt(rest[:durationFieldLen], 10, 64)
	if err != nil || durMs < 0 {
		return Clip{}, fmt.Errorf("clipstore: filename %q: bad duration field: %w", base, ErrMalformedName)
	}

	return Clip{
		SpeakerID: speaker,
		Path:      base,
		StartTime: start,
		Duration:  time.Duration(durMs) * time.Millisecond,
	}, nil
}

// FormatClipFilename encodes clip metadata into the filename contract.
// displayName is sanitised; ext is the container extension without a dot.
func FormatClipFilename(c Clip, displayName, ext string) string {
	return fmt.Sprintf("%s_%s_%s_%s.%s",
		c.StartTime.Format(clipTimeLayout),
		cutFill(c.SpeakerID, speakerFieldLen, '_'),
		cutFill(strconv.FormatInt(c.Duration.Milliseconds(), 10), durationFieldLen, '0'),
		sanitizeName(displayName),
		ext,
	)
}

// cutFill truncates s to width or left-pads it with filler, mirroring the
// capture side's field encoding.
func cutFill(s string, width int, filler byte) string {
	if len(s) > width {
		return s[:width]
	}
	return strings.Repeat(string(filler), width-len(s)) + s
}

// sanitizeName strips characters that are unsafe in filenames.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '?', '%', '*', ':', '|', '"', '<', '>':
			return '_'
		}
		return r
	}, name)
}
