package audiograph

import (
	"fmt"
	"time"
)

// EffectKind enumerates the supported DSP effects.
type EffectKind string

const (
	// EffectVolume scales loudness by a linear factor.
	EffectVolume EffectKind = "volume"

	// EffectTempo changes playback speed without shifting pitch.
	EffectTempo EffectKind = "tempo"

	// EffectPitch shifts pitch by resampling, changing speed along with it.
	EffectPitch EffectKind = "pitch"

	// EffectEcho layers delayed decaying reflections.
	EffectEcho EffectKind = "echo"

	// EffectConvolve convolves the signal with an impulse response file. The
	// only effect that needs an auxiliary engine input plus trailing silence
	// so the reverb tail is not truncated.
	EffectConvolve EffectKind = "convolve"
)

// Effect is one typed entry of a playback request's effect list. The command
// layer hands the core parsed effects; free text never reaches this package.
type Effect struct {
	Kind EffectKind

	// Value is kind-specific: volume factor, tempo factor, or pitch factor.
	// Ignored for echo and convolve.
	Value float64

	// ImpulsePath is the impulse response file for [EffectConvolve].
	ImpulsePath string

	// Tail is the trailing silence appended before convolution so the
	// response can ring out. Convolve only.
	Tail time.Duration
}

// IsValid reports whether the effect kind is known and its parameters are in
// range.
func (e Effect) IsValid() bool {
	switch e.Kind {
	case EffectVolume:
		return e.Value > 0
	case EffectTempo:
		// The engine's tempo filter accepts [0.5, 100] per invocation.
		return e.Value >= 0.5 && e.Value <= 100
	case EffectPitch:
		return e.Value > 0
	case EffectEcho:
		return true
	case EffectConvolve:
		return e.ImpulsePath != ""
	}
	return false
}

// filter renders the effect as a single filter expression. sampleRate is the
// engine's working rate, needed by the pitch resample chain.
func (e Effect) filter(sampleRate int) string {
	switch e.Kind {
	case EffectVolume:
		return fmt.Sprintf("volume=%s", formatFloat(e.Value))
	case EffectTempo:
		return fmt.Sprintf("atempo=%s", formatFloat(e.Value))
	case EffectPitch:
		return fmt.Sprintf("asetrate=%d*%s,aresample=%d",
			sampleRate, formatFloat(e.Value), sampleRate)
	case EffectEcho:
		return "aecho=0.8:0.9:500:0.3"
	case EffectConvolve:
		return "afir=dry=10:wet=10"
	}
	return ""
}

// formatFloat renders parameters without trailing zeros so identical inputs
// serialize identically.
func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
