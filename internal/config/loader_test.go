package config

import (
	"strings"
	"testing"
)

func TestLoadFromReader_Defaults(t *testing.T) {
	yaml := `
storage:
  postgres_dsn: "postgres://localhost/voxhoard"
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("expected default log level info, got %q", cfg.Server.LogLevel)
	}
	if cfg.Recording.MinClipDurationMs != 40 {
		t.Errorf("expected default min clip duration 40, got %d", cfg.Recording.MinClipDurationMs)
	}
	if cfg.Playback.JoinDebounceMs != 1000 {
		t.Errorf("expected default join debounce 1000, got %d", cfg.Playback.JoinDebounceMs)
	}
	if cfg.Archive.PhraseMinDurationMs != 3000 {
		t.Errorf("expected default phrase min duration 3000, got %d", cfg.Archive.PhraseMinDurationMs)
	}
	if cfg.Archive.MaxEffects != 5 {
		t.Errorf("expected default effect cap 5, got %d", cfg.Archive.MaxEffects)
	}
	if cfg.Recording.CheckFolderOnStartup == nil || !*cfg.Recording.CheckFolderOnStartup {
		t.Error("expected check_folder_on_startup to default to true")
	}
	if cfg.Engine.FfmpegPath != "ffmpeg" {
		t.Errorf("expected default ffmpeg path, got %q", cfg.Engine.FfmpegPath)
	}
}

func TestLoadFromReader_ExplicitValues(t *testing.T) {
	yaml := `
server:
  log_level: debug
storage:
  postgres_dsn: "postgres://localhost/voxhoard"
recording:
  min_clip_duration_ms: 100
  check_folder_on_startup: false
playback:
  join_debounce_ms: 2500
archive:
  gap_normalize_ms: 75
  phrase_min_listeners: 3
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("expected log level debug, got %q", cfg.Server.LogLevel)
	}
	if cfg.Recording.MinClipDurationMs != 100 {
		t.Errorf("expected min clip duration 100, got %d", cfg.Recording.MinClipDurationMs)
	}
	if *cfg.Recording.CheckFolderOnStartup {
		t.Error("expected check_folder_on_startup=false to survive defaulting")
	}
	if cfg.Playback.JoinDebounceMs != 2500 {
		t.Errorf("expected join debounce 2500, got %d", cfg.Playback.JoinDebounceMs)
	}
	if cfg.Archive.GapNormalizeMs != 75 {
		t.Errorf("expected gap normalize 75, got %d", cfg.Archive.GapNormalizeMs)
	}
	if cfg.Archive.PhraseMinListeners != 3 {
		t.Errorf("expected phrase min listeners 3, got %d", cfg.Archive.PhraseMinListeners)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	yaml := `
storage:
  postgres_dsn: "postgres://localhost/voxhoard"
  no_such_option: true
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Storage.PostgresDSN = "" },
			wantErr: "postgres_dsn",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "loud" },
			wantErr: "log_level",
		},
		{
			name:    "token without guild",
			mutate:  func(c *Config) { c.Discord.Token = "Bot x"; c.Discord.GuildID = "" },
			wantErr: "guild_id",
		},
		{
			name: "phrase gap exceeds min duration",
			mutate: func(c *Config) {
				c.Archive.PhraseAllowedGapMs = 4000
				c.Archive.PhraseMinDurationMs = 3000
			},
			wantErr: "phrase_allowed_gap_ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			cfg.Storage.PostgresDSN = "postgres://localhost/voxhoard"
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
