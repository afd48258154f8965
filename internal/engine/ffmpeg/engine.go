// Package ffmpeg drives the external media engine. One invocation at a time
// decodes a processing graph (or a direct source) to raw PCM on stdout,
// which is volume-scaled, opus-encoded and paced into the voice transport
// as 20 ms frames.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"layeh.com/gopus"

	"github.com/voxhoard/voxhoard/internal/audiograph"
	"github.com/voxhoard/voxhoard/internal/observe"
	"github.com/voxhoard/voxhoard/internal/playback"
)

// Voice transports expect 48 kHz stereo opus at 20 ms frame size.
const (
	sampleRate    = 48000
	channels      = 2
	frameSamples  = sampleRate * 20 / 1000 // 960 per channel
	frameBytes    = frameSamples * channels * 2
	frameDuration = 20 * time.Millisecond
)

// ErrBusy reports that an invocation is already running. The playback
// controller guarantees one request at a time; hitting this is a caller bug.
var ErrBusy = errors.New("ffmpeg: engine busy")

// Transport delivers encoded opus frames to the voice connection.
type Transport interface {
	// Speaking toggles the speaking indicator around an invocation.
	Speaking(on bool) error

	// Send delivers one opus frame. Blocking here applies backpressure to
	// the frame pacer.
	Send(frame []byte) error
}

// Engine implements [playback.Engine] over an external ffmpeg process.
type Engine struct {
	path      string
	builder   *audiograph.Builder
	transport Transport
	log       *slog.Logger
	metrics   *observe.Metrics

	events    chan playback.Event
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	cancel   context.CancelFunc
	request  uuid.UUID
	volume   float64
	frames   int64
	running  bool
	stopping bool
}

// Compile-time interface check.
var _ playback.Engine = (*Engine)(nil)

// New creates an Engine invoking the binary at path and resolving request
// graphs through builder.
func New(path string, builder *audiograph.Builder, transport Transport, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		path:      path,
		builder:   builder,
		transport: transport,
		log:       log,
		metrics:   observe.DefaultMetrics(),
		events:    make(chan playback.Event, 16),
		done:      make(chan struct{}),
	}
}

// Play builds the request's processing graph, spawns the engine process and
// starts the frame pump. Lifecycle events follow on [Engine.Events].
func (e *Engine) Play(ctx context.Context, req *playback.Request, offset time.Duration, volume float64) error {
	buildStart := time.Now()
	graph, err := e.buildGraph(req)
	if err != nil {
		return err
	}
	e.metrics.GraphBuildDuration.Record(ctx, time.Since(buildStart).Seconds())

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrBusy
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(runCtx, e.path, invocationArgs(graph, offset)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		e.mu.Unlock()
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		e.mu.Unlock()
		return fmt.Errorf("ffmpeg: start: %w", err)
	}

	e.cancel = cancel
	e.request = req.ID
	e.volume = volume
	e.frames = 0
	e.running = true
	e.stopping = false
	e.mu.Unlock()

	e.log.Debug("engine invocation started",
		"request_id", req.ID, "kind", req.Kind, "offset", offset)
	go e.pump(cmd, stdout, req.ID)
	return nil
}

// buildGraph resolves a request into a processing graph.
func (e *Engine) buildGraph(req *playback.Request) (*audiograph.Graph, error) {
	switch req.Kind {
	case playback.KindRecording:
		return e.builder.Build(req.Timeline, req.Effects)
	case playback.KindLocalSound:
		return e.builder.BuildSource(req.FilePath, req.Effects)
	case playback.KindRemoteStream:
		return e.builder.BuildSource(req.StreamURL, req.Effects)
	}
	return nil, fmt.Errorf("ffmpeg: unknown request kind %q", req.Kind)
}

// invocationArgs renders the full engine argument list: the graph's inputs
// and filter stage, an output-side seek (accurate for filter graphs, unlike
// input seeking), and the raw PCM output contract the pump reads.
func invocationArgs(g *audiograph.Graph, offset time.Duration) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, g.Args()...)
	if offset > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", offset.Seconds()))
	}
	return append(args,
		"-f", "s16le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", fmt.Sprint(channels),
		"pipe:1",
	)
}

// pump reads PCM frames from the process, scales, encodes and paces them
// into the transport, then reports the invocation's outcome.
func (e *Engine) pump(cmd *exec.Cmd, stdout io.ReadCloser, id uuid.UUID) {
	if err := e.transport.Speaking(true); err != nil {
		e.log.Warn("speaking indicator failed", "error", err)
	}
	defer func() {
		if err := e.transport.Speaking(false); err != nil {
			e.log.Warn("speaking indicator failed", "error", err)
		}
	}()

	e.emit(playback.Event{Kind: playback.EventStarted, RequestID: id})

	var pumpErr error
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		pumpErr = fmt.Errorf("ffmpeg: create opus encoder: %w", err)
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	buf := make([]byte, frameBytes)
	pcm := make([]int16, frameSamples*channels)
	for pumpErr == nil {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				pumpErr = fmt.Errorf("ffmpeg: read pcm: %w", err)
			}
			break
		}

		scalePCM(buf, pcm, e.currentVolume())
		frame, err := enc.Encode(pcm, frameSamples, frameBytes)
		if err != nil {
			pumpErr = fmt.Errorf("ffmpeg: opus encode: %w", err)
			break
		}

		<-ticker.C
		if err := e.transport.Send(frame); err != nil {
			pumpErr = fmt.Errorf("ffmpeg: send frame: %w", err)
			break
		}

		e.mu.Lock()
		e.frames++
		e.mu.Unlock()
	}

	waitErr := cmd.Wait()

	e.mu.Lock()
	stopped := e.stopping
	e.running = false
	e.stopping = false
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	switch {
	case stopped:
		// An intentional stop kills the process; the resulting exit and
		// pipe errors are expected.
		e.emit(playback.Event{Kind: playback.EventEnded, RequestID: id})
	case pumpErr != nil:
		e.emit(playback.Event{Kind: playback.EventFailed, RequestID: id, Err: pumpErr})
	case waitErr != nil:
		e.emit(playback.Event{Kind: playback.EventFailed, RequestID: id,
			Err: fmt.Errorf("ffmpeg: %w", waitErr)})
	default:
		e.emit(playback.Event{Kind: playback.EventEnded, RequestID: id})
	}
}

// emit delivers a lifecycle event. After Close nothing drains the channel
// anymore, so a blocked send would leak the pump goroutine along with the
// process wait; the done channel releases it instead.
func (e *Engine) emit(ev playback.Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Stop terminates the current invocation. The pump reports EventEnded once
// the process winds down; already-buffered frames may still flush.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.stopping = true
	if e.cancel != nil {
		e.cancel()
	}
}

// Close terminates any running invocation and releases pumps blocked on
// event delivery. Idempotent.
func (e *Engine) Close() error {
	e.Stop()
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

// SetVolume adjusts the live volume multiplier applied to subsequent frames.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

// Elapsed reports how much of the current invocation has been sent.
func (e *Engine) Elapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.frames) * frameDuration
}

// Events returns the lifecycle channel consumed by the playback controller.
func (e *Engine) Events() <-chan playback.Event {
	return e.events
}

func (e *Engine) currentVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// scalePCM decodes little-endian samples from buf, applies the volume
// multiplier with clipping, and writes the result into pcm.
func scalePCM(buf []byte, pcm []int16, volume float64) {
	for i := range pcm {
		s := int16(buf[i*2]) | int16(buf[i*2+1])<<8
		v := float64(s) * volume
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		pcm[i] = int16(v)
	}
}
