package domain

import "context"

// Platform is the outbound and lookup surface of the chat platform.
type Platform interface {
	// BotUserID is the native account id of the bot.
	BotUserID() string
	// History returns up to limit messages posted before beforeID,
	// newest first, as the platform delivers them.
	History(ctx context.Context, channelID, beforeID string, limit int) ([]ConversationMessage, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (*ConversationMessage, error)

	ExecuteWebhook(ctx context.Context, hook WebhookIdentity, content, username, avatarURL string) error
	Reply(ctx context.Context, channelID, messageID, content string) error
	Send(ctx context.Context, channelID, content string) error

	CreateWebhook(ctx context.Context, channelID, name string) (*WebhookIdentity, error)
	DeleteWebhook(ctx context.Context, hook WebhookIdentity) error
}
