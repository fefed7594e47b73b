// Package message recognises price notifications among chat traffic and
// pulls the price out of them.
package message

// Embed is the structured part of a chat message.
type Embed struct {
	Title       string
	Description string
}

// InboundMessage is a chat event as delivered by the event source. Channel
// is the human-readable channel name; ChannelID, when the source has one, is
// its stable id.
type InboundMessage struct {
	Channel   string
	ChannelID string
	Author    string
	Content   string
	Embeds    []Embed
}

// BodyKind tags which shape a message body came in.
type BodyKind int

const (
	// PlainText bodies live directly on the message.
	PlainText BodyKind = iota
	// Embedded bodies live in the first embed's description.
	Embedded
)

func (k BodyKind) String() string {
	switch k {
	case PlainText:
		return "plain"
	case Embedded:
		return "embed"
	default:
		return "unknown"
	}
}

// Body is the normalised notification text. Present is false for an
// embedded body whose description is missing.
type Body struct {
	Kind    BodyKind
	Text    string
	Present bool
}

// Body resolves the message shape. Messages carrying embeds always resolve
// to the first embed; the plain content is used only when there are none.
func (m InboundMessage) Body() Body {
	if len(m.Embeds) > 0 {
		desc := m.Embeds[0].Description
		return Body{Kind: Embedded, Text: desc, Present: desc != ""}
	}
	return Body{Kind: PlainText, Text: m.Content, Present: true}
}

// FirstEmbedDescription is used for trace logging only.
func (m InboundMessage) FirstEmbedDescription() string {
	if len(m.Embeds) == 0 {
		return ""
	}
	return m.Embeds[0].Description
}
