// Package playback owns the single voice connection and the single active
// playback slot. It serializes channel joins behind a debounce window, holds
// the ordered queue of play requests, and drives one-at-a-time playback with
// pause, resume, seek and volume-fade semantics.
package playback

import (
	"time"

	"github.com/google/uuid"

	"github.com/voxhoard/voxhoard/internal/audiograph"
	"github.com/voxhoard/voxhoard/internal/timeline"
)

// Kind discriminates the closed set of playback source kinds.
type Kind string

const (
	// KindLocalSound plays a file from the sound bank.
	KindLocalSound Kind = "local"

	// KindRemoteStream plays a resolved remote audio stream.
	KindRemoteStream Kind = "remote"

	// KindRecording plays a reconstructed archive timeline.
	KindRecording Kind = "recording"
)

// Request is one queued playback request. Exactly the fields of its Kind are
// set; the rest stay zero.
type Request struct {
	ID          uuid.UUID
	Kind        Kind
	RequesterID string

	// Effects is the parsed effect chain for this request.
	Effects []audiograph.Effect

	// ResumeOffset is where playback starts. Zero for fresh requests; set to
	// the accumulated elapsed time when a paused request is re-enqueued.
	ResumeOffset time.Duration

	// Duration is the source's total length when known (local file metadata,
	// remote metadata, or the timeline's result duration). Zero if unknown.
	Duration time.Duration

	// FilePath is the sound file for [KindLocalSound].
	FilePath string

	// StreamURL and Title describe the source for [KindRemoteStream].
	StreamURL string
	Title     string

	// Timeline is the reconstructed window for [KindRecording].
	Timeline *timeline.Timeline
}

// NewLocalSound creates a request playing a sound bank file.
func NewLocalSound(requesterID, path string, duration time.Duration, effects []audiograph.Effect) *Request {
	return &Request{
		ID:          uuid.New(),
		Kind:        KindLocalSound,
		RequesterID: requesterID,
		FilePath:    path,
		Duration:    duration,
		Effects:     effects,
	}
}

// NewRemoteStream creates a request playing a resolved remote stream.
func NewRemoteStream(requesterID, url, title string, duration time.Duration, effects []audiograph.Effect) *Request {
	return &Request{
		ID:          uuid.New(),
		Kind:        KindRemoteStream,
		RequesterID: requesterID,
		StreamURL:   url,
		Title:       title,
		Duration:    duration,
		Effects:     effects,
	}
}

// NewRecording creates a request playing a reconstructed timeline.
func NewRecording(requesterID string, tl *timeline.Timeline, effects []audiograph.Effect) *Request {
	var dur time.Duration
	if tl != nil {
		dur = tl.ResultDuration
	}
	return &Request{
		ID:          uuid.New(),
		Kind:        KindRecording,
		RequesterID: requesterID,
		Timeline:    tl,
		Duration:    dur,
		Effects:     effects,
	}
}
