// Package command implements the per-server configuration slash commands.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"lurkbot/internal/domain"
	"lurkbot/internal/metrics"
)

// Command names as registered with the platform.
const (
	SetChannel     = "setchannel"
	ChangeName     = "changename"
	ChangeAvatar   = "changeavatar"
	SetPersonality = "setpersonality"
	Toggle         = "toggle"
	Status         = "status"
)

const (
	maxNameLength      = 80
	defaultWebhookName = "Unnamed"
)

// Settings is the server settings cache the commands write through.
// *guild.Cache satisfies it.
type Settings interface {
	Get(serverID string) (domain.ServerConfig, bool)
	Set(ctx context.Context, serverID string, patch domain.ServerPatch) error
	Update(ctx context.Context, serverID string, patch domain.ServerPatch) error
}

// Webhooks creates and removes the webhooks replies are posted through.
type Webhooks interface {
	CreateWebhook(ctx context.Context, channelID, name string) (*domain.WebhookIdentity, error)
	DeleteWebhook(ctx context.Context, hook domain.WebhookIdentity) error
}

// Request is one invocation, already decoded from the platform interaction.
type Request struct {
	Name          string
	GuildID       string
	ChannelID     string
	IsTextChannel bool
	UserID        string
	Options       map[string]any
}

func (r Request) str(name string) string {
	s, _ := r.Options[name].(string)
	return s
}

// Response is what the invoker sees. Ephemeral responses are only visible to them.
type Response struct {
	Content   string
	Ephemeral bool
}

func reply(format string, args ...any) Response {
	return Response{Content: fmt.Sprintf(format, args...)}
}

func private(format string, args ...any) Response {
	return Response{Content: fmt.Sprintf(format, args...), Ephemeral: true}
}

// Handler executes configuration commands.
type Handler struct {
	settings    Settings
	webhooks    Webhooks
	webhookName string
	logger      *slog.Logger

	// guild id → *sync.Mutex; held while a server's webhook is swapped.
	swaps sync.Map
}

// HandlerConfig holds the dependencies of a Handler.
type HandlerConfig struct {
	Settings    Settings
	Webhooks    Webhooks
	WebhookName string // name given to created webhooks; empty uses "Unnamed"
	Logger      *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.WebhookName == "" {
		cfg.WebhookName = defaultWebhookName
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		settings:    cfg.Settings,
		webhooks:    cfg.Webhooks,
		webhookName: cfg.WebhookName,
		logger:      cfg.Logger,
	}
}

// Handle routes req to its command.
func (h *Handler) Handle(ctx context.Context, req Request) Response {
	metrics.Command(req.Name)

	if req.GuildID == "" {
		return private("This command can only be used in a server.")
	}
	log := h.logger.With("command", req.Name, "server", req.GuildID, "user", req.UserID)

	switch req.Name {
	case SetChannel:
		return h.setChannel(ctx, req, log)
	case ChangeName:
		return h.changeName(ctx, req, log)
	case ChangeAvatar:
		return h.changeAvatar(ctx, req, log)
	case SetPersonality:
		return h.setPersonality(ctx, req, log)
	case Toggle:
		return h.toggle(ctx, req, log)
	case Status:
		return h.status(req)
	default:
		return private("Unknown command.")
	}
}

func (h *Handler) setChannel(ctx context.Context, req Request, log *slog.Logger) Response {
	if !req.IsTextChannel || req.ChannelID == "" {
		return private("This command can only be used in a text channel.")
	}

	unlock := h.lockGuild(req.GuildID)
	defer unlock()

	hook, err := h.webhooks.CreateWebhook(ctx, req.ChannelID, h.webhookName)
	if err != nil {
		log.Error("create webhook failed", "channel", req.ChannelID, "err", err)
		return private("Failed to create webhook: %v", err)
	}

	prev, _ := h.settings.Get(req.GuildID)
	channelID := req.ChannelID
	err = h.settings.Set(ctx, req.GuildID, domain.ServerPatch{WatchedChannelID: &channelID, Webhook: hook})
	if err != nil {
		log.Error("save channel failed", "channel", req.ChannelID, "err", err)
		if derr := h.webhooks.DeleteWebhook(ctx, *hook); derr != nil {
			log.Warn("failed to remove unused webhook", "webhook", hook.ID, "err", derr)
		}
		return private("Failed to save: %v", err)
	}

	if prev.Webhook != nil && prev.Webhook.ID != hook.ID {
		if derr := h.webhooks.DeleteWebhook(ctx, *prev.Webhook); derr != nil {
			log.Warn("failed to delete previous webhook", "webhook", prev.Webhook.ID, "err", derr)
		}
	}
	log.Info("watching channel", "channel", req.ChannelID, "webhook", hook.ID)
	return reply("Channel set to <#%s> for this server (webhook created).", req.ChannelID)
}

func (h *Handler) lockGuild(serverID string) func() {
	v, _ := h.swaps.LoadOrStore(serverID, new(sync.Mutex))
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (h *Handler) changeName(ctx context.Context, req Request, log *slog.Logger) Response {
	name := strings.TrimSpace(req.str("name"))
	if name == "" {
		return private("Name cannot be empty.")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = strings.TrimSpace(string([]rune(name)[:maxNameLength]))
	}
	if err := h.settings.Set(ctx, req.GuildID, domain.ServerPatch{DisplayName: &name}); err != nil {
		log.Error("save name failed", "err", err)
		return private("Failed to save: %v", err)
	}
	return reply("Bot Name set to **%s**.", name)
}

func (h *Handler) changeAvatar(ctx context.Context, req Request, log *slog.Logger) Response {
	url := strings.TrimSpace(req.str("avatar_url"))
	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return private("Please provide a valid HTTP or HTTPS URL.")
	}
	if err := h.settings.Set(ctx, req.GuildID, domain.ServerPatch{AvatarURL: &url}); err != nil {
		log.Error("save avatar failed", "err", err)
		return private("Failed to save: %v", err)
	}
	return reply("Bot Avatar updated")
}

func (h *Handler) setPersonality(ctx context.Context, req Request, log *slog.Logger) Response {
	text := strings.TrimSpace(req.str("personality"))
	if text == "" {
		return private("Personality cannot be empty. Describe how the AI should behave.")
	}
	if err := h.settings.Set(ctx, req.GuildID, domain.ServerPatch{Personality: &text}); err != nil {
		log.Error("save personality failed", "err", err)
		return private("Failed to save: %v", err)
	}
	return reply("Personality updated.")
}

func (h *Handler) toggle(ctx context.Context, req Request, log *slog.Logger) Response {
	on, ok := req.Options["on"].(bool)
	if !ok {
		return private("Choose on (true) or off (false).")
	}
	err := h.settings.Update(ctx, req.GuildID, domain.ServerPatch{Enabled: &on})
	if errors.Is(err, domain.ErrServerNotConfigured) {
		return private("Set a channel with /setchannel first.")
	}
	if err != nil {
		log.Error("save toggle failed", "err", err)
		return private("Failed to save: %v", err)
	}
	state := "off"
	if on {
		state = "on"
	}
	return reply("AI replies are now **%s**.", state)
}

func (h *Handler) status(req Request) Response {
	cfg, ok := h.settings.Get(req.GuildID)
	if !ok {
		return private("This server is not configured. Use /setchannel to pick a channel.")
	}

	var b strings.Builder
	channel := "none"
	if cfg.WatchedChannelID != "" {
		channel = "<#" + cfg.WatchedChannelID + ">"
	}
	state := "off"
	if cfg.Enabled {
		state = "on"
	}
	webhook := "no (native replies)"
	if cfg.Webhook != nil {
		webhook = "yes"
	}
	avatar := cfg.AvatarURL
	if avatar == "" {
		avatar = "default"
	}
	personality := "default"
	if cfg.Personality != "" {
		personality = truncate(cfg.Personality, 200)
	}
	fmt.Fprintf(&b, "**Channel:** %s\n", channel)
	fmt.Fprintf(&b, "**Replies:** %s\n", state)
	fmt.Fprintf(&b, "**Name:** %s\n", cfg.Name())
	fmt.Fprintf(&b, "**Avatar:** %s\n", avatar)
	fmt.Fprintf(&b, "**Webhook:** %s\n", webhook)
	fmt.Fprintf(&b, "**Personality:** %s", personality)
	return Response{Content: b.String(), Ephemeral: true}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
