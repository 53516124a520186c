// Package discord provides the Discord layer of the assistant. It owns the
// discordgo.Session lifecycle, joins the configured voice channel, captures
// and segments participant speech into utterances for the pipeline, and
// mirrors conversation turns to a text channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio"
	discordaudio "github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string

	// GuildID is the target guild.
	GuildID string

	// VoiceChannelID is the voice channel the assistant joins on start.
	VoiceChannelID string

	// TextChannelID receives transcript mirrors. Empty disables mirroring.
	TextChannelID string
}

// Bot owns the Discord gateway connection, the voice channel membership and
// the speech capture loop.
type Bot struct {
	cfg     Config
	handler UtteranceHandler

	mu        sync.Mutex
	session   *discordgo.Session
	vc        *discordgo.VoiceConnection
	player    *discordaudio.Player
	capture   *capture
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Bot and connects the Discord session. The voice channel is
// joined in Run. Captured utterances are delivered to handler.
func New(cfg Config, handler UtteranceHandler) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("discord: utterance handler is required")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	return &Bot{
		cfg:     cfg,
		handler: handler,
		session: session,
		done:    make(chan struct{}),
	}, nil
}

// Player returns the voice channel playback sink. It is nil until Run has
// joined the voice channel.
func (b *Bot) Player() audio.Player {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.player == nil {
		return nil
	}
	return b.player
}

// Mirror returns a transcript mirror for the configured text channel, or
// nil when mirroring is disabled.
func (b *Bot) Mirror() *Mirror {
	if b.cfg.TextChannelID == "" {
		return nil
	}
	return NewMirror(b.session, b.cfg.TextChannelID)
}

// JoinVoice connects to the configured voice channel and starts the capture
// loop. It must be called before playback or capture is usable.
func (b *Bot) JoinVoice(ctx context.Context) error {
	vc, err := b.session.ChannelVoiceJoin(b.cfg.GuildID, b.cfg.VoiceChannelID, false, false)
	if err != nil {
		return fmt.Errorf("discord: join voice channel %s: %w", b.cfg.VoiceChannelID, err)
	}

	b.mu.Lock()
	b.vc = vc
	b.player = discordaudio.NewPlayer(vc)
	b.capture = newCapture(b.handler)
	capture := b.capture
	b.mu.Unlock()

	// Speaking updates carry the SSRC to user mapping for captured audio.
	vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		capture.MapSpeaker(uint32(vs.SSRC), vs.UserID)
	})

	go capture.run(ctx, vc.OpusRecv, b.done)
	slog.Info("discord: joined voice channel",
		"guild", b.cfg.GuildID, "channel", b.cfg.VoiceChannelID)
	return nil
}

// Run joins the voice channel and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.JoinVoice(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close leaves the voice channel and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.player != nil {
			b.player.Stop()
		}
		if b.vc != nil {
			if err := b.vc.Disconnect(); err != nil {
				slog.Warn("discord: voice disconnect", "err", err)
			}
		}
		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
