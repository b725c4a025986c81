package agent

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"lurkbot/internal/domain"
)

// DefaultReplyChance is the sampling probability when no trigger matched.
const DefaultReplyChance = 0.25

// Path names the rule that settled a decision.
type Path string

const (
	PathUnwatched  Path = "unwatched"
	PathDisabled   Path = "disabled"
	PathSelf       Path = "self"
	PathMention    Path = "mention"
	PathReplyToBot Path = "reply_to_bot"
	PathRandom     Path = "random"
	PathChance     Path = "chance"
)

// Decision is the outcome for one incoming message.
type Decision struct {
	Reply bool
	Path  Path
}

// MessageResolver looks up a message by id. domain.Platform satisfies it.
type MessageResolver interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ConversationMessage, error)
}

// Decider applies the reply rules in order; the first rule that matches wins.
type Decider struct {
	botUserID string
	resolver  MessageResolver
	chance    float64
	logger    *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// DeciderConfig holds the dependencies of a Decider.
type DeciderConfig struct {
	BotUserID string
	Resolver  MessageResolver // optional; without it only inline references are checked
	Chance    float64         // 0 disables random replies; negative selects the default
	Rand      *rand.Rand      // optional, for deterministic tests
	Logger    *slog.Logger
}

func NewDecider(cfg DeciderConfig) *Decider {
	if cfg.Chance < 0 {
		cfg.Chance = DefaultReplyChance
	}
	if cfg.Chance > 1 {
		cfg.Chance = 1
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Decider{
		botUserID: cfg.BotUserID,
		resolver:  cfg.Resolver,
		chance:    cfg.Chance,
		rng:       cfg.Rand,
		logger:    cfg.Logger,
	}
}

// Decide reports whether msg should get a reply under cfg. ok is false when
// the server has no cached settings.
func (d *Decider) Decide(ctx context.Context, msg domain.ConversationMessage, cfg domain.ServerConfig, ok bool) Decision {
	if !ok || !cfg.Watching(msg.ChannelID) {
		return Decision{Path: PathUnwatched}
	}
	if !cfg.Enabled {
		return Decision{Path: PathDisabled}
	}
	if d.isSelf(msg, cfg) {
		return Decision{Path: PathSelf}
	}
	if strings.Contains(strings.ToLower(msg.Text), strings.ToLower(cfg.Name())) {
		return Decision{Reply: true, Path: PathMention}
	}
	if d.repliesToBot(ctx, msg, cfg) {
		return Decision{Reply: true, Path: PathReplyToBot}
	}
	if d.sample() {
		return Decision{Reply: true, Path: PathRandom}
	}
	return Decision{Path: PathChance}
}

// isSelf matches only our own account and this server's webhook. Other bots
// and other webhooks are treated like people.
func (d *Decider) isSelf(msg domain.ConversationMessage, cfg domain.ServerConfig) bool {
	if d.botUserID != "" && msg.AuthorID == d.botUserID {
		return true
	}
	return cfg.Webhook != nil && msg.WebhookID != "" && msg.WebhookID == cfg.Webhook.ID
}

func (d *Decider) repliesToBot(ctx context.Context, msg domain.ConversationMessage, cfg domain.ServerConfig) bool {
	if msg.ReferencedMessageID == "" && msg.Referenced == nil {
		return false
	}
	ref := msg.Referenced
	if ref == nil {
		if d.resolver == nil {
			return false
		}
		fetched, err := d.resolver.FetchMessage(ctx, msg.ChannelID, msg.ReferencedMessageID)
		if err != nil || fetched == nil {
			d.logger.Debug("referenced message lookup failed", "message", msg.ReferencedMessageID, "err", err)
			return false
		}
		ref = fetched
	}
	if cfg.Webhook != nil && ref.WebhookID != "" && ref.WebhookID == cfg.Webhook.ID {
		return true
	}
	return d.botUserID != "" && ref.AuthorID == d.botUserID
}

func (d *Decider) sample() bool {
	if d.chance <= 0 {
		return false
	}
	if d.chance >= 1 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < d.chance
}
