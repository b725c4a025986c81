package domain

import "time"

// Embed is the subset of a rich embed that can carry media.
// Empty fields are absent on the source message.
type Embed struct {
	ImageURL     string `json:"image_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	VideoURL     string `json:"video_url,omitempty"`
}

// ConversationMessage is a platform message normalised for the reply pipeline.
// It lives for one decision/context/reply cycle and is never stored.
type ConversationMessage struct {
	ID                  string
	ChannelID           string
	GuildID             string
	AuthorID            string
	Author              string // display name used in context lines
	Text                string
	Attachments         []string
	Embeds              []Embed
	IsBot               bool
	WebhookID           string // set when the message was posted through a webhook
	ReferencedMessageID string
	Referenced          *ConversationMessage // inline copy of the referenced message, if delivered
	Timestamp           time.Time
}

// HasMedia reports whether the message carries attachments or embeds.
func (m ConversationMessage) HasMedia() bool {
	return len(m.Attachments) > 0 || len(m.Embeds) > 0
}

// Event is what the platform adapter publishes onto the bus.
type Event struct {
	Message  ConversationMessage
	Received time.Time
}

// ReplyDelimiter separates the parts of one model reply.
const ReplyDelimiter = "|||"

// ReplyEnvelope is a model reply and the ordered parts it dispatches as.
type ReplyEnvelope struct {
	Text  string
	Parts []string
}
