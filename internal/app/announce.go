package app

import (
	"context"
	"errors"

	"ndx-relay/internal/discord"
)

// AnnounceOptions configure a test announcement.
type AnnounceOptions struct {
	ChannelID string
	Title     string
	Text      string
}

// Announce posts a test notification embed to Discord.
func (a *App) Announce(ctx context.Context, opts AnnounceOptions) error {
	if err := a.Config.RequireToken(); err != nil {
		return err
	}
	if opts.ChannelID == "" {
		return errors.New("channel id is required")
	}

	if err := discord.Announce(ctx, a.Config.Discord.Token, opts.ChannelID, opts.Title, opts.Text); err != nil {
		return err
	}
	a.Logger.Info().Str("channel_id", opts.ChannelID).Str("text", opts.Text).Msg("test announcement posted")
	return nil
}
