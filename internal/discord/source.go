// Package discord adapts a Discord gateway session into a stream of
// message.InboundMessage values.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"ndx-relay/internal/message"
)

// Source forwards every message the bot can see to a sink channel.
type Source struct {
	token  string
	out    chan<- message.InboundMessage
	logger zerolog.Logger
}

// NewSource builds a Source that delivers into out.
func NewSource(token string, out chan<- message.InboundMessage, logger zerolog.Logger) *Source {
	return &Source{
		token:  token,
		out:    out,
		logger: logger.With().Str("component", "discord").Logger(),
	}
}

// Run opens a gateway session and blocks until ctx is cancelled. The
// session reconnects on its own; an error here means it never came up.
func (s *Source) Run(ctx context.Context) error {
	session, err := newSession(s.token)
	if err != nil {
		return err
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		s.logger.Info().Str("user", r.User.String()).Msg("connected to discord")
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		s.logger.Warn().Msg("discord gateway disconnected")
	})
	session.AddHandler(func(sess *discordgo.Session, m *discordgo.MessageCreate) {
		msg := Convert(sess.State, m.Message)
		select {
		case s.out <- msg:
		case <-ctx.Done():
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close discord session")
		}
	}()

	<-ctx.Done()
	return ctx.Err()
}

func newSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	return session, nil
}

// Convert maps a Discord message into the relay's message shape. The channel
// name comes from state when cached and falls back to the id.
func Convert(state *discordgo.State, m *discordgo.Message) message.InboundMessage {
	msg := message.InboundMessage{
		Channel:   m.ChannelID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	}
	if state != nil {
		if ch, err := state.Channel(m.ChannelID); err == nil && ch.Name != "" {
			msg.Channel = ch.Name
		}
	}
	if m.Author != nil {
		msg.Author = m.Author.String()
	}
	// A nil embed keeps its slot so the first embed stays first.
	for _, e := range m.Embeds {
		if e == nil {
			msg.Embeds = append(msg.Embeds, message.Embed{})
			continue
		}
		msg.Embeds = append(msg.Embeds, message.Embed{Title: e.Title, Description: e.Description})
	}
	return msg
}
