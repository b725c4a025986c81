package domain

import (
	"context"
	"errors"
)

// DefaultDisplayName is used for replies and mention detection when a server
// has not configured a name.
const DefaultDisplayName = "Untitled"

var (
	// ErrServerNotConfigured is returned when an update targets a server
	// that has no stored row yet.
	ErrServerNotConfigured = errors.New("server not configured")
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("not found")
)

// WebhookIdentity is the credential used to post under a borrowed name/avatar.
type WebhookIdentity struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// ServerConfig holds the per-server bot settings.
type ServerConfig struct {
	ServerID         string           `json:"server_id"`
	WatchedChannelID string           `json:"channel_id,omitempty"`
	Webhook          *WebhookIdentity `json:"webhook,omitempty"`
	DisplayName      string           `json:"webhook_name,omitempty"`
	AvatarURL        string           `json:"webhook_avatar_url,omitempty"`
	Personality      string           `json:"personality,omitempty"`
	Enabled          bool             `json:"enabled"`
}

// Name returns the configured display name or the default.
func (c ServerConfig) Name() string {
	if c.DisplayName == "" {
		return DefaultDisplayName
	}
	return c.DisplayName
}

// Watching reports whether the server monitors channelID.
func (c ServerConfig) Watching(channelID string) bool {
	return c.WatchedChannelID != "" && c.WatchedChannelID == channelID
}

// ServerPatch is a partial update. Nil fields are left unchanged.
type ServerPatch struct {
	WatchedChannelID *string
	Webhook          *WebhookIdentity
	DisplayName      *string
	AvatarURL        *string
	Personality      *string
	Enabled          *bool
}

// Empty reports whether the patch changes nothing.
func (p ServerPatch) Empty() bool {
	return p.WatchedChannelID == nil && p.Webhook == nil && p.DisplayName == nil &&
		p.AvatarURL == nil && p.Personality == nil && p.Enabled == nil
}

// Apply returns cfg with the patch applied.
func (p ServerPatch) Apply(cfg ServerConfig) ServerConfig {
	if p.WatchedChannelID != nil {
		cfg.WatchedChannelID = *p.WatchedChannelID
	}
	if p.Webhook != nil {
		hook := *p.Webhook
		cfg.Webhook = &hook
	}
	if p.DisplayName != nil {
		cfg.DisplayName = *p.DisplayName
	}
	if p.AvatarURL != nil {
		cfg.AvatarURL = *p.AvatarURL
	}
	if p.Personality != nil {
		cfg.Personality = *p.Personality
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	return cfg
}

// ServerStore persists ServerConfig rows keyed by server id.
type ServerStore interface {
	// ListServers returns every stored server.
	ListServers(ctx context.Context) ([]ServerConfig, error)
	// GetServer returns ErrNotFound when no row exists.
	GetServer(ctx context.Context, serverID string) (*ServerConfig, error)
	// UpsertServer inserts a row (enabled defaults to true) or updates only
	// the patched columns of an existing one.
	UpsertServer(ctx context.Context, serverID string, patch ServerPatch) error
	// UpdateServer updates an existing row. It returns ErrServerNotConfigured
	// when the row does not exist.
	UpdateServer(ctx context.Context, serverID string, patch ServerPatch) error
	DeleteServer(ctx context.Context, serverID string) error
	Close() error
}
