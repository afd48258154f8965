// Package remote resolves remote audio URLs into playable stream sources by
// shelling out to an external extractor (yt-dlp).
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/voxhoard/voxhoard/internal/observe"
)

// ErrTimeout reports that metadata extraction exceeded the resolver's
// deadline. The pending request is abandoned, not retried.
var ErrTimeout = errors.New("remote: metadata extraction timed out")

// ErrNoStream reports that the extractor found no playable audio stream for
// the URL.
var ErrNoStream = errors.New("remote: no audio stream")

// Track is the resolved metadata for one remote source.
type Track struct {
	Title     string
	Duration  time.Duration
	StreamURL string
	Uploader  string
	Extractor string
}

// Resolver extracts stream metadata for remote URLs.
type Resolver struct {
	path    string
	timeout time.Duration
	log     *slog.Logger
	metrics *observe.Metrics
}

// ResolverOption configures a [Resolver].
type ResolverOption func(*Resolver)

// WithTimeout bounds how long one extraction may take.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewResolver creates a Resolver invoking the extractor binary at path.
func NewResolver(path string, log *slog.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{path: path, timeout: 5 * time.Second, log: log, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve fetches title, duration and a direct audio stream URL for the
// given page URL. A stuck extractor is killed at the resolver's deadline and
// reported as [ErrTimeout] so the playback slot never hangs on a remote
// lookup.
func (r *Resolver) Resolve(ctx context.Context, url string) (Track, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	defer func() { r.metrics.RemoteResolveDuration.Record(ctx, time.Since(start).Seconds()) }()

	cmd := exec.CommandContext(ctx, r.path,
		"-J",
		"--no-playlist",
		"-f", "bestaudio/best",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return Track{}, fmt.Errorf("remote: resolve %q after %s: %w", url, r.timeout, ErrTimeout)
		}
		return Track{}, fmt.Errorf("remote: resolve %q: %w", url, err)
	}

	track, err := parseTrack(out)
	if err != nil {
		return Track{}, err
	}
	r.log.Debug("remote source resolved",
		"url", url, "title", track.Title, "duration", track.Duration,
		"took", time.Since(start))
	return track, nil
}

type extractorOutput struct {
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	URL       string  `json:"url"`
	Uploader  string  `json:"uploader"`
	Extractor string  `json:"extractor"`
	Formats   []struct {
		URL    string `json:"url"`
		ACodec string `json:"acodec"`
	} `json:"formats"`
}

// parseTrack decodes the extractor's single-video JSON document. The direct
// stream URL lives at the top level when a format was selected; otherwise
// fall back to the last listed format carrying an audio codec.
func parseTrack(out []byte) (Track, error) {
	var raw extractorOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return Track{}, fmt.Errorf("remote: decode extractor output: %w", err)
	}

	streamURL := raw.URL
	if streamURL == "" {
		for i := len(raw.Formats) - 1; i >= 0; i-- {
			f := raw.Formats[i]
			if f.URL != "" && f.ACodec != "" && f.ACodec != "none" {
				streamURL = f.URL
				break
			}
		}
	}
	if streamURL == "" {
		return Track{}, ErrNoStream
	}

	return Track{
		Title:     raw.Title,
		Duration:  time.Duration(raw.Duration * float64(time.Second)),
		StreamURL: streamURL,
		Uploader:  raw.Uploader,
		Extractor: raw.Extractor,
	}, nil
}
