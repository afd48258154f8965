package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields of cfg with the built-in defaults.
// The defaults mirror a conservative single-guild deployment.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Storage.InsertsPerTransaction <= 0 {
		cfg.Storage.InsertsPerTransaction = 25000
	}
	if cfg.Folders.Recordings == "" {
		cfg.Folders.Recordings = "rec"
	}
	if cfg.Folders.Sounds == "" {
		cfg.Folders.Sounds = "sounds"
	}
	if cfg.Folders.SoundFilters == "" {
		cfg.Folders.SoundFilters = "soundfilters"
	}
	if cfg.Folders.Temp == "" {
		cfg.Folders.Temp = "temp"
	}
	if cfg.Recording.MinClipDurationMs <= 0 {
		cfg.Recording.MinClipDurationMs = 40
	}
	if cfg.Recording.CheckFolderOnStartup == nil {
		t := true
		cfg.Recording.CheckFolderOnStartup = &t
	}
	if cfg.Recording.ScanParallelism <= 0 {
		cfg.Recording.ScanParallelism = 4
	}
	if cfg.Playback.JoinDebounceMs <= 0 {
		cfg.Playback.JoinDebounceMs = 1000
	}
	if cfg.Playback.PlaybackSpacingMs <= 0 {
		cfg.Playback.PlaybackSpacingMs = 5
	}
	if cfg.Playback.GlobalVolume <= 0 {
		cfg.Playback.GlobalVolume = 100
	}
	if cfg.Playback.DefaultVolume <= 0 {
		cfg.Playback.DefaultVolume = 20
	}
	if cfg.Playback.VolumeRampSteps <= 0 {
		cfg.Playback.VolumeRampSteps = 100
	}
	if cfg.Playback.VolumeRampMs <= 0 {
		cfg.Playback.VolumeRampMs = 1000
	}
	if cfg.Archive.SearchHorizonHours <= 0 {
		cfg.Archive.SearchHorizonHours = 40
	}
	if cfg.Archive.GapNormalizeMs <= 0 {
		cfg.Archive.GapNormalizeMs = 50
	}
	if cfg.Archive.GapStopSec <= 0 {
		cfg.Archive.GapStopSec = 20
	}
	if cfg.Archive.SessionGapSec <= 0 {
		cfg.Archive.SessionGapSec = 1200
	}
	if cfg.Archive.SessionMinSpeakers <= 0 {
		cfg.Archive.SessionMinSpeakers = 2
	}
	if cfg.Archive.PhraseMinDurationMs <= 0 {
		cfg.Archive.PhraseMinDurationMs = 3000
	}
	if cfg.Archive.PhraseAllowedGapMs <= 0 {
		cfg.Archive.PhraseAllowedGapMs = 300
	}
	if cfg.Archive.PhraseMinListeners <= 0 {
		cfg.Archive.PhraseMinListeners = 5
	}
	if cfg.Archive.MaxEffects <= 0 {
		cfg.Archive.MaxEffects = 5
	}
	if cfg.Remote.MetadataTimeoutMs <= 0 {
		cfg.Remote.MetadataTimeoutMs = 5000
	}
	if cfg.Remote.YtDlpPath == "" {
		cfg.Remote.YtDlpPath = "yt-dlp"
	}
	if cfg.Engine.FfmpegPath == "" {
		cfg.Engine.FfmpegPath = "ffmpeg"
	}
	if cfg.Engine.FfprobePath == "" {
		cfg.Engine.FfprobePath = "ffprobe"
	}
	if cfg.Engine.ParallelLimit <= 0 {
		cfg.Engine.ParallelLimit = 6
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Discord.Token != "" && cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required when discord.token is set"))
	}
	if cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required"))
	}
	if cfg.Playback.DefaultVolume > 100 {
		errs = append(errs, fmt.Errorf("playback.default_volume %.1f is out of range (0, 100]", cfg.Playback.DefaultVolume))
	}
	if cfg.Archive.PhraseAllowedGapMs >= cfg.Archive.PhraseMinDurationMs {
		errs = append(errs, fmt.Errorf("archive.phrase_allowed_gap_ms %d must be smaller than archive.phrase_min_duration_ms %d",
			cfg.Archive.PhraseAllowedGapMs, cfg.Archive.PhraseMinDurationMs))
	}

	return errors.Join(errs...)
}
