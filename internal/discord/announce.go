package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Announce posts a single embed to channelID, the same shape the price bot
// uses. It is meant for end-to-end checks of a running relay.
func Announce(ctx context.Context, token, channelID, title, description string) error {
	session, err := newSession(token)
	if err != nil {
		return err
	}

	embed := &discordgo.MessageEmbed{Title: title, Description: description}
	if _, err := session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send announcement: %w", err)
	}
	return nil
}
