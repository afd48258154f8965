package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ProbeInfo is the subset of container metadata the application needs.
type ProbeInfo struct {
	Duration time.Duration
	Format   string
	BitRate  int64
}

// Prober inspects media files with an external ffprobe binary.
type Prober struct {
	path string
}

// NewProber creates a Prober invoking the binary at path.
func NewProber(path string) *Prober {
	return &Prober{path: path}
}

// Probe reads container metadata for the file or URL at target.
func (p *Prober) Probe(ctx context.Context, target string) (ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, p.path,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		target,
	)
	out, err := cmd.Output()
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("ffmpeg: probe %q: %w", target, err)
	}
	return parseProbeOutput(out)
}

type probeFormat struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbeOutput(out []byte) (ProbeInfo, error) {
	var raw probeFormat
	if err := json.Unmarshal(out, &raw); err != nil {
		return ProbeInfo{}, fmt.Errorf("ffmpeg: decode probe output: %w", err)
	}

	info := ProbeInfo{Format: raw.Format.FormatName}
	if raw.Format.Duration != "" {
		secs, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return ProbeInfo{}, fmt.Errorf("ffmpeg: parse probe duration %q: %w", raw.Format.Duration, err)
		}
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	if raw.Format.BitRate != "" {
		// ffprobe reports bit_rate as a decimal string; missing for some
		// stream-only containers.
		rate, err := strconv.ParseInt(raw.Format.BitRate, 10, 64)
		if err != nil {
			return ProbeInfo{}, fmt.Errorf("ffmpeg: parse probe bit rate %q: %w", raw.Format.BitRate, err)
		}
		info.BitRate = rate
	}
	return info, nil
}
