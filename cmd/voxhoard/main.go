// Command voxhoard is the main entry point for the Voxhoard voice archive
// bot: it indexes captured clips, reconstructs archive windows and phrases,
// and drives the single shared playback slot on a Discord voice channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/voxhoard/voxhoard/internal/app"
	"github.com/voxhoard/voxhoard/internal/config"
	"github.com/voxhoard/voxhoard/internal/discord"
	"github.com/voxhoard/voxhoard/internal/engine/ffmpeg"
	"github.com/voxhoard/voxhoard/internal/observe"
	"github.com/voxhoard/voxhoard/internal/playback"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxhoard: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxhoard: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxhoard starting",
		"version", version,
		"config", *configPath,
		"recordings", cfg.Folders.Recordings,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry providers (metrics via the Prometheus bridge).
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxhoard",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// Discord voice gateway (optional: without a token the process runs
	// headless for archive maintenance).
	var (
		gateway *discord.VoiceGateway
		session *discordgo.Session
	)
	if cfg.Discord.Token != "" {
		session, err = discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			slog.Error("failed to create Discord session", "err", err)
			return 1
		}
		session.Identify.Intents = discordgo.IntentsGuildVoiceStates
		if err := session.Open(); err != nil {
			slog.Error("failed to open Discord gateway", "err", err)
			return 1
		}
		defer func() {
			if err := session.Close(); err != nil {
				slog.Warn("discord session close error", "err", err)
			}
		}()
		gateway = discord.NewVoiceGateway(session, cfg.Discord.GuildID, logger)
		slog.Info("discord gateway connected", "guild_id", cfg.Discord.GuildID)
	} else {
		slog.Warn("no discord token configured — running headless")
	}

	// A nil *VoiceGateway must stay a nil interface so app.New falls back
	// to its no-op transport and joiner.
	var (
		transport ffmpeg.Transport
		joiner    playback.Joiner
	)
	if gateway != nil {
		transport = gateway
		joiner = gateway
	}
	application, err := app.New(ctx, cfg, transport, joiner, logger)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if err := application.Start(ctx); err != nil {
		slog.Error("startup failed", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	slog.Info("voxhoard ready — press Ctrl+C to shut down")
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if gateway != nil {
		if err := gateway.Leave(context.Background()); err != nil &&
			!errors.Is(err, discord.ErrNotConnected) {
			slog.Warn("voice disconnect error", "err", err)
		}
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
