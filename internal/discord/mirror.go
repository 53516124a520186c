package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/history"
)

// messageSender is the slice of discordgo.Session the mirror needs.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Mirror posts conversation turns to a Discord text channel so voice
// exchanges leave a readable trace. It satisfies the pipeline's Recorder
// contract.
type Mirror struct {
	sender    messageSender
	channelID string
}

// NewMirror creates a mirror posting to channelID.
func NewMirror(sender messageSender, channelID string) *Mirror {
	return &Mirror{sender: sender, channelID: channelID}
}

// Record posts one turn. User turns are prefixed with a microphone marker,
// assistant turns with a speaker marker.
func (m *Mirror) Record(_ context.Context, _, role, content string) error {
	var prefix string
	switch role {
	case history.RoleUser:
		prefix = "🎤"
	case history.RoleAssistant:
		prefix = "🔊"
	default:
		prefix = "•"
	}

	if _, err := m.sender.ChannelMessageSend(m.channelID, prefix+" "+content); err != nil {
		return fmt.Errorf("discord: mirror turn: %w", err)
	}
	return nil
}
