package app

import (
	"context"
	"fmt"

	"ndx-relay/internal/message"
	"ndx-relay/internal/relay"
)

// SimulateOptions describe a synthetic chat message.
type SimulateOptions struct {
	Channel string
	Author  string
	Text    string
	Embed   bool
}

// Simulate pushes one message through the real filter, gate and fanout, and
// waits for the deliveries to finish.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (relay.Outcome, error) {
	s, err := a.openStores(ctx)
	if err != nil {
		return relay.Failed, err
	}
	defer s.Close()

	msg := message.InboundMessage{
		Channel: opts.Channel,
		Author:  opts.Author,
	}
	if msg.Channel == "" {
		msg.Channel = a.Config.Discord.Channel
	}
	if msg.Author == "" {
		msg.Author = a.Config.Discord.Bot
	}
	if opts.Embed {
		msg.Embeds = []message.Embed{{Title: "simulated", Description: opts.Text}}
	} else {
		msg.Content = opts.Text
	}

	ctrl := a.newController(s)
	outcome := ctrl.Handle(ctx, msg)
	ctrl.Wait()

	if outcome == relay.StoreFailed || outcome == relay.Failed {
		return outcome, fmt.Errorf("simulated relay ended with %s", outcome)
	}
	return outcome, nil
}
