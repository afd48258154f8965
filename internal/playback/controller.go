package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxhoard/voxhoard/internal/observe"
)

// State is the connection state machine's current phase.
type State string

const (
	// StateIdle means no voice connection exists.
	StateIdle State = "idle"

	// StateJoinPending means a gateway join handshake is in flight.
	StateJoinPending State = "join_pending"

	// StateConnectedIdle means the connection is up and the playback slot
	// is free.
	StateConnectedIdle State = "connected_idle"

	// StatePreparing means a request was popped and the engine invocation
	// is being set up.
	StatePreparing State = "preparing"

	// StatePlaying means the engine is producing audio.
	StatePlaying State = "playing"

	// StatePaused means the current request was re-enqueued at the head and
	// the slot is held until Resume.
	StatePaused State = "paused"
)

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateJoinPending, StateConnectedIdle, StatePreparing, StatePlaying, StatePaused:
		return true
	}
	return false
}

// Position selects where Enqueue inserts a request.
type Position string

const (
	// Append adds the request behind everything queued.
	Append Position = "append"

	// Prepend puts the request at the head, pre-empting the queue order.
	Prepend Position = "prepend"
)

// Sentinel errors returned by the controller.
var (
	ErrClosed     = errors.New("playback: controller closed")
	ErrNotPlaying = errors.New("playback: nothing is playing")
	ErrNotPaused  = errors.New("playback: nothing is paused")
)

// Option configures a [Controller] during construction.
type Option func(*Controller)

// WithJoinDebounce sets the minimum spacing between channel-join attempts.
// Joining the gateway faster than its own handshake timeout corrupts
// connection state, so requests inside the window are coalesced.
func WithJoinDebounce(d time.Duration) Option {
	return func(c *Controller) { c.joinDebounce = d }
}

// WithSpacing sets the minimum pause between consecutive playbacks so bursts
// of short clips do not flood the transport.
func WithSpacing(d time.Duration) Option {
	return func(c *Controller) { c.spacing = d }
}

// WithVolumeRamp configures how [Controller.SetVolume] smooths loudness
// changes: steps incremental engine calls spread across d.
func WithVolumeRamp(steps int, d time.Duration) Option {
	return func(c *Controller) {
		if steps > 0 {
			c.rampSteps = steps
		}
		if d > 0 {
			c.rampDuration = d
		}
	}
}

// WithInitialVolume sets the starting volume multiplier.
func WithInitialVolume(v float64) Option {
	return func(c *Controller) { c.volume = v }
}

// WithMetrics replaces the default metrics instance. Tests inject one backed
// by a manual reader.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// Controller is the single owner of the voice connection and the playback
// slot. All exported methods are safe for concurrent use; every state
// mutation happens under one mutex and engine lifecycle events are consumed
// by a single goroutine, so concurrent joins or concurrent advances cannot
// interleave.
type Controller struct {
	engine  Engine
	joiner  Joiner
	log     *slog.Logger
	metrics *observe.Metrics

	joinDebounce time.Duration
	spacing      time.Duration
	rampSteps    int
	rampDuration time.Duration

	mu            sync.Mutex
	state         State
	queue         []*Request
	current       *Request
	activeChannel string
	pendingJoin   string
	joinTimer     *time.Timer
	lastJoin      time.Time
	lastEnded     time.Time
	prepareStart  time.Time
	volume        float64
	rampGen       int
	pausing       bool
	closed        bool

	done chan struct{}
}

// NewController creates a Controller over the given engine and gateway
// joiner and starts its event-consuming goroutine. Call
// [Controller.Close] on shutdown.
func NewController(engine Engine, joiner Joiner, log *slog.Logger, opts ...Option) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		engine:       engine,
		joiner:       joiner,
		log:          log,
		metrics:      observe.DefaultMetrics(),
		joinDebounce: time.Second,
		spacing:      5 * time.Millisecond,
		rampSteps:    100,
		rampDuration: time.Second,
		state:        StateIdle,
		volume:       1,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.run()
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveChannel returns the joined voice channel id, or "" when idle.
func (c *Controller) ActiveChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeChannel
}

// Queue returns a snapshot of the pending requests in play order.
func (c *Controller) Queue() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Request, len(c.queue))
	copy(out, c.queue)
	return out
}

// Current returns the request occupying the playback slot, or nil.
func (c *Controller) Current() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// RequestJoin connects to the given voice channel. Requests arriving less
// than the debounce window after the previous join are coalesced into a
// single pending target (last-writer-wins) executed when the window ends; a
// superseded target is dropped without notice. An immediate join failure is
// returned to the caller and is not retried.
func (c *Controller) RequestJoin(ctx context.Context, channelID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	if since := time.Since(c.lastJoin); since < c.joinDebounce {
		c.pendingJoin = channelID
		if c.joinTimer == nil {
			c.joinTimer = time.AfterFunc(c.joinDebounce-since, c.fireDelayedJoin)
		}
		c.mu.Unlock()
		return nil
	}

	c.lastJoin = time.Now()
	if c.state == StateIdle {
		c.state = StateJoinPending
	}
	c.mu.Unlock()

	joinStart := time.Now()
	if err := c.joiner.Join(ctx, channelID); err != nil {
		c.mu.Lock()
		if c.state == StateJoinPending {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return fmt.Errorf("playback: join %q: %w", channelID, err)
	}
	c.metrics.JoinDuration.Record(ctx, time.Since(joinStart).Seconds())

	c.mu.Lock()
	c.activeChannel = channelID
	if c.state == StateJoinPending {
		c.state = StateConnectedIdle
	}
	c.mu.Unlock()
	return nil
}

// fireDelayedJoin executes the coalesced join target once the debounce
// window has elapsed.
func (c *Controller) fireDelayedJoin() {
	c.mu.Lock()
	target := c.pendingJoin
	c.pendingJoin = ""
	c.joinTimer = nil
	closed := c.closed
	c.mu.Unlock()

	if closed || target == "" {
		return
	}
	if err := c.RequestJoin(context.Background(), target); err != nil {
		c.log.Error("coalesced join failed", "channel_id", target, "error", err)
	}
}

// Leave disconnects from the voice channel and drops back to Idle. The
// queue survives; playback resumes after the next join and Advance.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil {
		c.engine.Stop()
	}
	c.releaseSlotLocked()
	c.activeChannel = ""
	c.state = StateIdle
	c.mu.Unlock()

	if err := c.joiner.Leave(ctx); err != nil {
		return fmt.Errorf("playback: leave: %w", err)
	}
	return nil
}

// Enqueue inserts a request into the queue. It never starts playback by
// itself; callers decide when to Advance.
func (c *Controller) Enqueue(req *Request, pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.metrics.RecordPlaybackRequest(context.Background(), string(req.Kind), "queued")
	c.metrics.QueueDepth.Add(context.Background(), 1)
	if pos == Prepend {
		c.queue = append([]*Request{req}, c.queue...)
		return
	}
	c.queue = append(c.queue, req)
}

// Advance pops the queue head into the playback slot when the connection is
// up and the slot is free. No-op in any other state.
func (c *Controller) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
}

// advanceLocked implements Advance. Callers hold c.mu.
func (c *Controller) advanceLocked() {
	if c.state != StateConnectedIdle || len(c.queue) == 0 || c.closed {
		return
	}

	req := c.queue[0]
	c.queue = c.queue[1:]
	c.metrics.QueueDepth.Add(context.Background(), -1)
	c.current = req
	c.metrics.ActivePlayback.Add(context.Background(), 1)
	c.state = StatePreparing
	c.prepareStart = time.Now()

	wait := c.spacing - time.Since(c.lastEnded)
	go c.startPlayback(req, wait, c.volume)
}

// releaseSlotLocked frees the playback slot. Callers hold c.mu.
func (c *Controller) releaseSlotLocked() {
	if c.current == nil {
		return
	}
	c.current = nil
	c.metrics.ActivePlayback.Add(context.Background(), -1)
}

// startPlayback waits out the inter-playback spacing, then hands the request
// to the engine. Runs outside the lock; engine events drive the state from
// here on.
func (c *Controller) startPlayback(req *Request, wait time.Duration, volume float64) {
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-c.done:
			return
		}
	}

	// A Skip, Stop or Leave issued during the spacing wait has already
	// cleared the slot; the engine had nothing to stop at that point, so the
	// cancellation is recorded in c.current and checked here.
	c.mu.Lock()
	if c.current != req || c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.engine.Play(context.Background(), req, req.ResumeOffset, volume); err != nil {
		c.log.Error("engine rejected request",
			"request_id", req.ID, "kind", req.Kind, "error", err)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.current != req {
			return
		}
		c.releaseSlotLocked()
		c.lastEnded = time.Now()
		if c.state == StatePreparing {
			c.state = StateConnectedIdle
		}
		c.advanceLocked()
	}
}

// Pause freezes the current playback: the request goes back to the queue
// head carrying its accumulated elapsed offset, the engine is stopped, and
// the slot is held until [Controller.Resume]. Valid only while playing.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || c.current == nil {
		return ErrNotPlaying
	}

	offset := c.current.ResumeOffset + c.engine.Elapsed()
	if offset < 0 {
		offset = 0
	}
	if c.current.Duration > 0 && offset > c.current.Duration {
		offset = c.current.Duration
	}
	c.current.ResumeOffset = offset

	c.queue = append([]*Request{c.current}, c.queue...)
	c.metrics.QueueDepth.Add(context.Background(), 1)
	c.releaseSlotLocked()
	c.state = StatePaused

	// The stop below emits an EventEnded; pausing tells the event loop the
	// transition is already managed.
	c.pausing = true
	c.engine.Stop()
	return nil
}

// Resume releases a paused slot and immediately advances, picking up the
// re-enqueued request at its recorded offset.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return ErrNotPaused
	}
	c.state = StateConnectedIdle
	c.advanceLocked()
	return nil
}

// Skip stops the current playback without requeueing it. The engine's end
// event advances to the next queued request.
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNotPlaying
	}

	// During Preparing the engine has not been invoked yet, so stopping it
	// would be a no-op and the pending request would play anyway. Clearing
	// the slot makes startPlayback abandon the invocation instead.
	if c.state == StatePreparing {
		c.releaseSlotLocked()
		c.lastEnded = time.Now()
		c.state = StateConnectedIdle
		c.advanceLocked()
		return nil
	}
	c.engine.Stop()
	return nil
}

// Stop terminates the current playback and clears the remaining queue.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.QueueDepth.Add(context.Background(), int64(-len(c.queue)))
	c.queue = nil
	if c.state == StatePaused {
		c.state = StateConnectedIdle
	}
	if c.current == nil {
		return
	}
	if c.state == StatePreparing {
		// Same race as Skip: the invocation is still pending, so the slot is
		// cleared instead of stopping an engine that is not running.
		c.releaseSlotLocked()
		c.lastEnded = time.Now()
		c.state = StateConnectedIdle
		return
	}
	c.engine.Stop()
}

// SetVolume fades the volume to target across the configured ramp. A later
// call supersedes a ramp in progress; ramps are never queued.
func (c *Controller) SetVolume(target float64) {
	c.mu.Lock()
	c.rampGen++
	gen := c.rampGen
	from := c.volume
	steps := c.rampSteps
	ramp := c.rampDuration
	c.mu.Unlock()

	if steps <= 1 || ramp <= 0 {
		c.mu.Lock()
		c.volume = target
		c.mu.Unlock()
		c.engine.SetVolume(target)
		return
	}
	go c.rampVolume(gen, from, target, steps, ramp)
}

// rampVolume emits the incremental volume steps for one SetVolume call,
// aborting as soon as a newer call bumps the generation.
func (c *Controller) rampVolume(gen int, from, target float64, steps int, ramp time.Duration) {
	interval := ramp / time.Duration(steps)
	for i := 1; i <= steps; i++ {
		select {
		case <-time.After(interval):
		case <-c.done:
			return
		}

		v := from + (target-from)*float64(i)/float64(steps)

		c.mu.Lock()
		if c.rampGen != gen || c.closed {
			c.mu.Unlock()
			return
		}
		c.volume = v
		c.mu.Unlock()

		c.engine.SetVolume(v)
	}
}

// Volume returns the current volume multiplier.
func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// run is the single consumer of engine lifecycle events.
func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.engine.Events():
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// handleEvent applies one engine event to the state machine.
func (c *Controller) handleEvent(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventStarted:
		if c.current != nil && c.current.ID == ev.RequestID && c.state == StatePreparing {
			c.state = StatePlaying
			c.metrics.EngineStartDuration.Record(context.Background(),
				time.Since(c.prepareStart).Seconds())
			return
		}
		// An invocation whose request was terminated while it was still
		// starting up reports in here; shut it down instead of adopting it.
		c.engine.Stop()

	case EventEnded, EventFailed:
		if ev.Kind == EventFailed {
			c.log.Error("playback failed", "request_id", ev.RequestID, "error", ev.Err)
		}
		c.lastEnded = time.Now()

		// A pause-driven stop already re-enqueued the request and moved the
		// state; the event only confirms the engine wound down.
		if c.pausing {
			c.pausing = false
			return
		}

		if c.current != nil && c.current.ID == ev.RequestID {
			if ev.Kind == EventFailed {
				c.metrics.RecordEngineFailure(context.Background(), string(c.current.Kind))
			}
			c.releaseSlotLocked()
			if c.state == StatePlaying || c.state == StatePreparing {
				c.state = StateConnectedIdle
			}
			c.advanceLocked()
		}
	}
}

// Close stops the event loop, terminates any current playback, and rejects
// further use. Idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		c.joinTimer = nil
	}
	if c.current != nil {
		c.engine.Stop()
	}
	c.metrics.QueueDepth.Add(context.Background(), int64(-len(c.queue)))
	c.queue = nil
	c.mu.Unlock()

	close(c.done)
	return nil
}
