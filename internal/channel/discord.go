package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"lurkbot/internal/command"
	"lurkbot/internal/domain"
)

const (
	discordMaxMsgLen   = 2000
	interactionTimeout = 10 * time.Second
)

// CommandHandler executes decoded slash commands. *command.Handler satisfies it.
type CommandHandler interface {
	Handle(ctx context.Context, req command.Request) command.Response
}

// Discord is the gateway adapter. It publishes guild messages onto the bus,
// routes slash commands to a CommandHandler and implements domain.Platform
// for the reply pipeline.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	logger  *slog.Logger

	mu       sync.RWMutex
	botID    string
	commands CommandHandler
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token   string
	GuildID string // when set, slash commands are registered to this guild only
	Logger  *slog.Logger
}

// NewDiscord creates the session without connecting.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		session: session,
		logger:  cfg.Logger,
	}, nil
}

func (d *Discord) Name() string { return "discord" }

// SetCommandHandler installs the slash command handler. Interactions that
// arrive before one is set get an ephemeral "not ready" reply.
func (d *Discord) SetCommandHandler(h CommandHandler) {
	d.mu.Lock()
	d.commands = h
	d.mu.Unlock()
}

// Open connects to the gateway, starts publishing guild messages onto bus
// and registers the slash commands.
func (d *Discord) Open(bus domain.MessageBus) error {
	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.GuildID == "" {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		msg := convertMessage(m.Message)
		d.logger.Debug("discord message received",
			"author", msg.Author,
			"guild", m.GuildID,
			"channel", m.ChannelID,
			"content_len", len(m.Content),
		)
		bus.Publish(domain.Event{Message: msg, Received: time.Now()})
	})
	d.session.AddHandler(d.onInteraction)

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.mu.Lock()
	d.botID = d.session.State.User.ID
	d.mu.Unlock()
	d.logger.Info("discord bot connected", "user", d.session.State.User.Username, "id", d.botID)

	if err := d.registerSlashCommands(); err != nil {
		d.logger.Warn("failed to register slash commands", "err", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// Connected reports whether the gateway session is up.
func (d *Discord) Connected() bool {
	return d.session.DataReady
}

func (d *Discord) BotUserID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.botID
}

func (d *Discord) History(ctx context.Context, channelID, beforeID string, limit int) ([]domain.ConversationMessage, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("channel history %s: %w", channelID, err)
	}
	out := make([]domain.ConversationMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out, nil
}

func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ConversationMessage, error) {
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	msg := convertMessage(m)
	return &msg, nil
}

func (d *Discord) ExecuteWebhook(ctx context.Context, hook domain.WebhookIdentity, content, username, avatarURL string) error {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		params := &discordgo.WebhookParams{Content: chunk, Username: username, AvatarURL: avatarURL}
		if _, err := d.session.WebhookExecute(hook.ID, hook.Token, true, params, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("execute webhook %s: %w", hook.ID, err)
		}
	}
	return nil
}

func (d *Discord) Reply(ctx context.Context, channelID, messageID, content string) error {
	ref := &discordgo.MessageReference{MessageID: messageID, ChannelID: channelID}
	chunks := splitMessage(content, discordMaxMsgLen)
	if _, err := d.session.ChannelMessageSendReply(channelID, chunks[0], ref, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("reply in %s: %w", channelID, err)
	}
	for _, chunk := range chunks[1:] {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send to %s: %w", channelID, err)
		}
	}
	return nil
}

func (d *Discord) Send(ctx context.Context, channelID, content string) error {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send to %s: %w", channelID, err)
		}
	}
	return nil
}

func (d *Discord) CreateWebhook(ctx context.Context, channelID, name string) (*domain.WebhookIdentity, error) {
	wh, err := d.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create webhook in %s: %w", channelID, err)
	}
	if wh.Token == "" {
		return nil, fmt.Errorf("create webhook in %s: no token returned", channelID)
	}
	return &domain.WebhookIdentity{ID: wh.ID, Token: wh.Token}, nil
}

func (d *Discord) DeleteWebhook(ctx context.Context, hook domain.WebhookIdentity) error {
	if _, err := d.session.WebhookDeleteWithToken(hook.ID, hook.Token, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete webhook %s: %w", hook.ID, err)
	}
	return nil
}

func (d *Discord) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	d.mu.RLock()
	h := d.commands
	d.mu.RUnlock()

	resp := command.Response{Content: "Still starting up, try again in a moment.", Ephemeral: true}
	if h != nil {
		ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
		resp = h.Handle(ctx, d.commandRequest(i))
		cancel()
	}

	data := &discordgo.InteractionResponseData{Content: resp.Content}
	if resp.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		d.logger.Error("interaction response failed", "command", i.ApplicationCommandData().Name, "err", err)
	}
}

func (d *Discord) commandRequest(i *discordgo.InteractionCreate) command.Request {
	data := i.ApplicationCommandData()
	req := command.Request{
		Name:      data.Name,
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Options:   commandOptions(data.Options),
	}
	if i.Member != nil && i.Member.User != nil {
		req.UserID = i.Member.User.ID
	} else if i.User != nil {
		req.UserID = i.User.ID
	}
	req.IsTextChannel = d.isTextChannel(i.ChannelID)
	return req
}

func (d *Discord) isTextChannel(channelID string) bool {
	ch, err := d.session.State.Channel(channelID)
	if err != nil {
		ch, err = d.session.Channel(channelID)
		if err != nil {
			d.logger.Warn("channel lookup failed", "channel", channelID, "err", err)
			return false
		}
	}
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
}

func commandOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]any {
	out := make(map[string]any, len(opts))
	for _, opt := range opts {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			out[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionBoolean:
			out[opt.Name] = opt.BoolValue()
		default:
			out[opt.Name] = opt.Value
		}
	}
	return out
}

// slashCommands describes the configuration commands. They are guild-only and
// hidden from members without Manage Server.
func slashCommands() []*discordgo.ApplicationCommand {
	perm := int64(discordgo.PermissionManageServer)
	dm := false
	def := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:                     name,
			Description:              desc,
			DefaultMemberPermissions: &perm,
			DMPermission:             &dm,
			Options:                  opts,
		}
	}
	str := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: desc,
			Required:    true,
		}
	}
	return []*discordgo.ApplicationCommand{
		def(command.SetChannel, "Set this server's channel"),
		def(command.ChangeName, "Set the display name used for webhook replies in this server",
			str("name", "Display name for AI replies")),
		def(command.ChangeAvatar, "Set the avatar URL used for webhook replies in this server",
			str("avatar_url", "Image URL for the reply avatar (e.g. https://...)")),
		def(command.SetPersonality, "Set the personality/instructions used for AI replies in this server",
			str("personality", "Personality text (instructions for how the AI should behave)")),
		def(command.Toggle, "Turn AI replies on or off for this server",
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "on",
				Description: "Turn replies on (true) or off (false)",
				Required:    true,
			}),
		def(command.Status, "Show this server's reply settings"),
	}
}

func (d *Discord) registerSlashCommands() error {
	cmds := slashCommands()
	// empty guildID registers global commands
	created, err := d.session.ApplicationCommandBulkOverwrite(d.session.State.User.ID, d.guildID, cmds)
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	d.logger.Info("slash commands registered", "count", len(created), "guild", d.guildID)
	return nil
}

// convertMessage normalises a discordgo message for the reply pipeline.
func convertMessage(m *discordgo.Message) domain.ConversationMessage {
	msg := domain.ConversationMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Text:      m.Content,
		WebhookID: m.WebhookID,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.IsBot = m.Author.Bot
		msg.Author = displayName(m.Author, m.Member)
	}
	for _, a := range m.Attachments {
		if a != nil && a.URL != "" {
			msg.Attachments = append(msg.Attachments, a.URL)
		}
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		var emb domain.Embed
		if e.Image != nil {
			emb.ImageURL = e.Image.URL
		}
		if e.Thumbnail != nil {
			emb.ThumbnailURL = e.Thumbnail.URL
		}
		if e.Video != nil {
			emb.VideoURL = e.Video.URL
		}
		msg.Embeds = append(msg.Embeds, emb)
	}
	if m.MessageReference != nil {
		msg.ReferencedMessageID = m.MessageReference.MessageID
	}
	if m.ReferencedMessage != nil {
		ref := convertMessage(m.ReferencedMessage)
		msg.Referenced = &ref
		if msg.ReferencedMessageID == "" {
			msg.ReferencedMessageID = ref.ID
		}
	}
	return msg
}

func displayName(u *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible. Chunks never cut a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
