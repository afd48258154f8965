package audiograph

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/voxhoard/voxhoard/internal/timeline"
)

// ErrInvalidEffect reports an effect with an unknown kind or out-of-range
// parameters. The command layer validates user input; hitting this is a
// programming error upstream.
var ErrInvalidEffect = errors.New("audiograph: invalid effect")

// Builder constructs processing graphs from timelines. Safe for concurrent
// use; it holds only configuration.
type Builder struct {
	// dir is the recordings directory clip paths resolve against.
	dir string

	maxEffects int
	sampleRate int
}

// BuilderOption configures a [Builder].
type BuilderOption func(*Builder)

// WithMaxEffects caps how many effects one request may chain. Effects beyond
// the cap are silently dropped, not rejected: unbounded DSP chains have
// unbounded cost.
func WithMaxEffects(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxEffects = n
		}
	}
}

// WithSampleRate sets the engine's working sample rate.
func WithSampleRate(hz int) BuilderOption {
	return func(b *Builder) {
		if hz > 0 {
			b.sampleRate = hz
		}
	}
}

// NewBuilder creates a Builder resolving clip paths against dir.
func NewBuilder(dir string, opts ...BuilderOption) *Builder {
	b := &Builder{dir: dir, maxEffects: 5, sampleRate: 48000}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build turns a timeline and an effect list into a processing graph.
//
// Construction order: auxiliary convolution inputs first, then the per-lane
// combination stage (concat for a single lane, delayed lane concats into one
// mix for several), then the trailing-silence pad when a convolution effect
// is present, then the remaining effects in caller order. The final stage's
// output becomes the graph's single sink.
//
// Returns [ErrEmptyTimeline] for a timeline with no entries and
// [ErrInvalidEffect] for an effect that fails validation.
func (b *Builder) Build(tl *timeline.Timeline, effects []Effect) (*Graph, error) {
	if tl == nil || len(tl.Entries) == 0 {
		return nil, ErrEmptyTimeline
	}
	effects, err := b.normalizeEffects(effects)
	if err != nil {
		return nil, err
	}

	g := &Graph{}
	impulseLabel, silenceLabel := b.declareAuxInputs(g, effects)

	// Primary inputs: one per timeline entry, in timeline order.
	entryLabels := make([]string, len(tl.Entries))
	for i, e := range tl.Entries {
		entryLabels[i] = engineInput(len(g.Inputs))
		g.Inputs = append(g.Inputs, Input{Path: filepath.Join(b.dir, e.Clip.Path)})
	}

	// Stage 2: place every entry on its lane. Each lane chains its entries
	// with a delay node in front of any entry that does not start flush at
	// the lane's running end, so concatenation reproduces the timeline's
	// relative offsets exactly.
	sink := b.combineLanes(g, tl, entryLabels)

	g.Sink = b.applyEffects(g, sink, effects, impulseLabel, silenceLabel)
	return g, nil
}

// BuildSource builds a graph over a single direct source (a sound bank file
// or a resolved remote stream URL) with the same effect-chain semantics as
// [Builder.Build]. Without effects the graph degenerates to the input's own
// audio stream.
func (b *Builder) BuildSource(path string, effects []Effect) (*Graph, error) {
	if path == "" {
		return nil, ErrEmptyTimeline
	}
	effects, err := b.normalizeEffects(effects)
	if err != nil {
		return nil, err
	}

	g := &Graph{}
	impulseLabel, silenceLabel := b.declareAuxInputs(g, effects)
	sink := engineInput(len(g.Inputs))
	g.Inputs = append(g.Inputs, Input{Path: path})

	g.Sink = b.applyEffects(g, sink, effects, impulseLabel, silenceLabel)
	return g, nil
}

// declareAuxInputs declares the impulse file and silence pad inputs when the
// effect list carries a convolution. Auxiliary inputs always precede the
// primary inputs. Returns empty labels when no convolution is present.
func (b *Builder) declareAuxInputs(g *Graph, effects []Effect) (impulse, silence string) {
	conv := findConvolve(effects)
	if conv == nil {
		return "", ""
	}
	g.Inputs = append(g.Inputs, Input{Path: filepath.Clean(conv.ImpulsePath)})
	impulse = engineInput(0)
	g.Inputs = append(g.Inputs, Input{
		Path: fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", b.sampleRate),
		Args: []string{"-f", "lavfi", "-t", formatFloat(conv.Tail.Seconds())},
	})
	silence = engineInput(1)
	return impulse, silence
}

// applyEffects emits the trailing-silence pad and the effect chain on top of
// sink and returns the final sink label.
func (b *Builder) applyEffects(g *Graph, sink string, effects []Effect, impulseLabel, silenceLabel string) string {
	if silenceLabel != "" {
		sink = g.add("concat=n=2:v=0:a=1", []string{sink, silenceLabel}, "pad")
	}
	for i, e := range effects {
		inputs := []string{sink}
		if e.Kind == EffectConvolve {
			inputs = append(inputs, impulseLabel)
		}
		sink = g.add(e.filter(b.sampleRate), inputs, fmt.Sprintf("e%d", i))
	}
	return sink
}

// combineLanes emits the delay/concat stage for every lane and, for a mix
// timeline, the final amix node. Returns the stage's sink label.
func (b *Builder) combineLanes(g *Graph, tl *timeline.Timeline, entryLabels []string) string {
	var (
		laneLabels []string
		delayCount int
	)
	for lane := range tl.Lanes() {
		var (
			inputs []string
			cursor int64 // lane's covered end, in engine milliseconds
		)
		for i, e := range tl.Entries {
			if e.Lane != lane {
				continue
			}
			label := entryLabels[i]
			if delay := e.Offset.Milliseconds() - cursor; delay > 0 {
				label = g.add(
					fmt.Sprintf("adelay=%d:all=1", delay),
					[]string{label},
					fmt.Sprintf("d%d", delayCount),
				)
				delayCount++
			}
			inputs = append(inputs, label)
			cursor = e.Offset.Milliseconds() + e.Clip.Duration.Milliseconds()
		}
		laneLabels = append(laneLabels, g.add(
			fmt.Sprintf("concat=n=%d:v=0:a=1", len(inputs)),
			inputs,
			fmt.Sprintf("l%d", lane),
		))
	}

	if tl.Method == timeline.MethodMix && len(laneLabels) > 1 {
		return g.add(
			fmt.Sprintf("amix=inputs=%d:duration=longest:dropout_transition=0", len(laneLabels)),
			laneLabels,
			"mix",
		)
	}
	return laneLabels[0]
}

// normalizeEffects validates the list, caps it, and keeps only the first
// convolution effect (the graph carries a single impulse input).
func (b *Builder) normalizeEffects(effects []Effect) ([]Effect, error) {
	var out []Effect
	seenConvolve := false
	for _, e := range effects {
		if !e.IsValid() {
			return nil, fmt.Errorf("audiograph: effect %q: %w", e.Kind, ErrInvalidEffect)
		}
		if e.Kind == EffectConvolve {
			if seenConvolve {
				continue
			}
			seenConvolve = true
		}
		if len(out) < b.maxEffects {
			out = append(out, e)
		}
	}
	return out, nil
}

// add appends a node and returns its output label.
func (g *Graph) add(filter string, inputs []string, output string) string {
	g.Nodes = append(g.Nodes, Node{Filter: filter, Inputs: inputs, Output: output})
	return output
}

func findConvolve(effects []Effect) *Effect {
	for i := range effects {
		if effects[i].Kind == EffectConvolve {
			return &effects[i]
		}
	}
	return nil
}

// engineInput names a declared engine input's audio stream.
func engineInput(index int) string {
	return fmt.Sprintf("%d:a", index)
}
