package playback

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind enumerates the engine lifecycle signals the controller consumes.
type EventKind string

const (
	// EventStarted fires once the engine is producing audio for a request.
	EventStarted EventKind = "started"

	// EventEnded fires when a request finished naturally or after Stop.
	EventEnded EventKind = "ended"

	// EventFailed fires when the engine reported a runtime error. The
	// request is dropped, not requeued.
	EventFailed EventKind = "failed"
)

// Event is one engine lifecycle notification.
type Event struct {
	Kind      EventKind
	RequestID uuid.UUID
	Err       error
}

// Engine runs one media-engine invocation at a time and streams its output
// into the voice transport. Implementations report lifecycle transitions on
// [Engine.Events]; the controller is the channel's single consumer.
type Engine interface {
	// Play starts playback of req at the given start offset and volume
	// multiplier. It returns once the invocation is underway; EventStarted,
	// then EventEnded or EventFailed, follow on the event channel. The
	// context cancels preparation (probing, process spawn) but a started
	// invocation is only terminated via Stop.
	Play(ctx context.Context, req *Request, offset time.Duration, volume float64) error

	// Stop requests termination of the current invocation. Already-buffered
	// output may still flush before EventEnded fires.
	Stop()

	// SetVolume adjusts the live volume multiplier of the current
	// invocation.
	SetVolume(v float64)

	// Elapsed reports how much of the current invocation has played.
	Elapsed() time.Duration

	// Events returns the lifecycle channel. Closed when the engine shuts
	// down.
	Events() <-chan Event
}

// Joiner owns the external voice gateway connection.
type Joiner interface {
	// Join connects to the given voice channel, blocking through the
	// gateway handshake.
	Join(ctx context.Context, channelID string) error

	// Leave disconnects from the current channel.
	Leave(ctx context.Context) error
}
