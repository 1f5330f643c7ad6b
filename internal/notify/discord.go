package notify

import (
	"bytes"
	"context"
	"fmt"

	"tft-tracker/internal/config"
	"tft-tracker/internal/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// ChannelNotifier delivers payloads to a single Discord channel. Delivery is
// best effort: callers log failures and move on, nothing is retried here.
type ChannelNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    zerolog.Logger
}

func NewSession(cfg *config.Config) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	return session, nil
}

func NewChannelNotifier(session *discordgo.Session, cfg *config.Config, logger zerolog.Logger) *ChannelNotifier {
	return &ChannelNotifier{
		session:   session,
		channelID: cfg.ChannelID,
		logger:    logger.With().Str("component", "notifier").Logger(),
	}
}

func (n *ChannelNotifier) Send(ctx context.Context, payload domain.Notification) error {
	msg := &discordgo.MessageSend{Content: payload.Text}
	if payload.Alert {
		msg.Content = "@here " + payload.Text
	}
	if len(payload.Image) > 0 {
		name := payload.ImageName
		if name == "" {
			name = "match.png"
		}
		msg.Files = []*discordgo.File{{
			Name:        name,
			ContentType: "image/png",
			Reader:      bytes.NewReader(payload.Image),
		}}
	}

	_, err := n.session.ChannelMessageSendComplex(n.channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to send channel message: %w", err)
	}

	n.logger.Debug().
		Bool("alert", payload.Alert).
		Bool("has_image", len(payload.Image) > 0).
		Msg("notification delivered")
	return nil
}
