package agent

import (
	"context"
	"log/slog"
	"strings"

	"lurkbot/internal/domain"
)

const (
	defaultContextMessages = 10
	noHistory              = "(no previous messages)"
)

// ContextOptions controls how prior messages become prompt context.
type ContextOptions struct {
	Limit        int  // messages to fetch before the current one
	ExcludeBots  bool // drop bot-authored messages from the window
	IncludeMedia bool // append " [media: ...]" to lines that carry media
}

// MediaURLs lists every attachment URL, then each embed's image, thumbnail
// and video URL when present.
func MediaURLs(msg domain.ConversationMessage) []string {
	var urls []string
	urls = append(urls, msg.Attachments...)
	for _, e := range msg.Embeds {
		for _, u := range []string{e.ImageURL, e.ThumbnailURL, e.VideoURL} {
			if u != "" {
				urls = append(urls, u)
			}
		}
	}
	return urls
}

// BuildContext renders history (oldest first) as "<author>: <text>" lines.
func BuildContext(history []domain.ConversationMessage, includeMedia bool) string {
	if len(history) == 0 {
		return noHistory
	}
	var b strings.Builder
	for i, msg := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Author)
		b.WriteString(": ")
		b.WriteString(lineText(msg))
		if includeMedia {
			if urls := MediaURLs(msg); len(urls) > 0 {
				b.WriteString(" [media: ")
				b.WriteString(strings.Join(urls, " "))
				b.WriteByte(']')
			}
		}
	}
	return b.String()
}

func lineText(msg domain.ConversationMessage) string {
	text := strings.TrimSpace(msg.Text)
	if text != "" {
		return text
	}
	if msg.HasMedia() {
		return "(media)"
	}
	return "(no text)"
}

// CollectHistory fetches the window before msg and returns it oldest first.
// Fetch errors yield an empty history.
func CollectHistory(ctx context.Context, p domain.Platform, msg domain.ConversationMessage, opts ContextOptions, logger *slog.Logger) []domain.ConversationMessage {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultContextMessages
	}
	fetched, err := p.History(ctx, msg.ChannelID, msg.ID, limit)
	if err != nil {
		logger.Warn("failed to load history, continuing without it", "channel", msg.ChannelID, "err", err)
		return nil
	}

	out := make([]domain.ConversationMessage, 0, len(fetched))
	for i := len(fetched) - 1; i >= 0; i-- {
		m := fetched[i]
		if m.ID == msg.ID || (opts.ExcludeBots && m.IsBot) {
			continue
		}
		out = append(out, m)
	}
	return out
}
