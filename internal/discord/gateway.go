// Package discord adapts the bwmarrin/discordgo voice transport to the
// playback pipeline. The gateway owns the single voice connection the state
// machine arbitrates; command parsing and permission handling live in the
// bot layer, not here.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/voxhoard/voxhoard/internal/engine/ffmpeg"
	"github.com/voxhoard/voxhoard/internal/playback"
)

// Compile-time interface assertions.
var (
	_ playback.Joiner  = (*VoiceGateway)(nil)
	_ ffmpeg.Transport = (*VoiceGateway)(nil)
)

// voiceConn is the discordgo.VoiceConnection surface the gateway uses.
// Narrowed for tests.
type voiceConn interface {
	Speaking(b bool) error
	Disconnect() error
}

// joinFunc joins a voice channel and returns the connection plus its opus
// send channel. Defaults to discordgo's ChannelVoiceJoin; overridden in
// tests.
type joinFunc func(ctx context.Context, channelID string) (voiceConn, chan<- []byte, error)

// VoiceGateway wraps a *discordgo.Session and exposes the two narrow
// contracts the pipeline needs: channel join/leave for the state machine and
// opus frame delivery for the engine.
//
// VoiceGateway is safe for concurrent use.
type VoiceGateway struct {
	log  *slog.Logger
	join joinFunc

	mu   sync.Mutex
	vc   voiceConn
	send chan<- []byte
}

// NewVoiceGateway creates a gateway over an already-opened session. Each
// Join call replaces the previous voice connection; mute=false (we send
// audio), deaf=true (the playback pipeline never receives).
func NewVoiceGateway(session *discordgo.Session, guildID string, log *slog.Logger) *VoiceGateway {
	if log == nil {
		log = slog.Default()
	}
	return &VoiceGateway{
		log: log,
		join: func(_ context.Context, channelID string) (voiceConn, chan<- []byte, error) {
			vc, err := session.ChannelVoiceJoin(guildID, channelID, false, true)
			if err != nil {
				return nil, nil, err
			}
			return vc, vc.OpusSend, nil
		},
	}
}

// Join connects to the given voice channel, blocking through the gateway
// handshake. A connection to another channel is torn down first.
func (g *VoiceGateway) Join(ctx context.Context, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.vc != nil {
		if err := g.vc.Disconnect(); err != nil {
			g.log.Warn("stale voice connection teardown failed", "error", err)
		}
		g.vc = nil
		g.send = nil
	}

	vc, send, err := g.join(ctx, channelID)
	if err != nil {
		return fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	g.vc = vc
	g.send = send
	g.log.Info("voice channel joined", "channel_id", channelID)
	return nil
}

// Leave disconnects from the current channel. A no-op when not connected.
func (g *VoiceGateway) Leave(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.vc == nil {
		return nil
	}
	err := g.vc.Disconnect()
	g.vc = nil
	g.send = nil
	if err != nil {
		return fmt.Errorf("discord: leave voice channel: %w", err)
	}
	return nil
}

// Speaking toggles the speaking indicator on the current connection.
func (g *VoiceGateway) Speaking(on bool) error {
	g.mu.Lock()
	vc := g.vc
	g.mu.Unlock()

	if vc == nil {
		return fmt.Errorf("discord: speaking: %w", ErrNotConnected)
	}
	if err := vc.Speaking(on); err != nil {
		return fmt.Errorf("discord: speaking: %w", err)
	}
	return nil
}

// Send delivers one opus frame to the voice connection. Blocks while
// discordgo's send buffer is full, which paces the engine's frame pump.
func (g *VoiceGateway) Send(frame []byte) error {
	g.mu.Lock()
	send := g.send
	g.mu.Unlock()

	if send == nil {
		return fmt.Errorf("discord: send frame: %w", ErrNotConnected)
	}
	send <- frame
	return nil
}
