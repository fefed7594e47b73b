package message

import "strings"

// DefaultMarker is the substring the notification bot puts in every price post.
const DefaultMarker = "NDX"

// FilterConfig selects which messages count as price notifications.
type FilterConfig struct {
	Channel             string
	Author              string
	DisableVerifyAuthor bool
	Marker              string
}

// Filter accepts trade notifications and ignores everything else.
type Filter struct {
	cfg FilterConfig
}

// NewFilter builds a Filter, falling back to DefaultMarker.
func NewFilter(cfg FilterConfig) *Filter {
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	return &Filter{cfg: cfg}
}

// Accept returns the resolved body text when msg is a notification.
func (f *Filter) Accept(msg InboundMessage) (string, bool) {
	if !f.matchesChannel(msg) {
		return "", false
	}
	if !f.cfg.DisableVerifyAuthor && msg.Author != f.cfg.Author {
		return "", false
	}

	body := msg.Body()
	if !body.Present || !strings.Contains(body.Text, f.cfg.Marker) {
		return "", false
	}
	return body.Text, true
}

func (f *Filter) matchesChannel(msg InboundMessage) bool {
	if msg.Channel == f.cfg.Channel {
		return true
	}
	return msg.ChannelID != "" && msg.ChannelID == f.cfg.Channel
}
