package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lurkbot/internal/domain"
	"lurkbot/internal/metrics"
)

const defaultRetryBackoff = 500 * time.Millisecond

// SplitReply cuts text on the reply delimiter, trims each part and drops the
// empty ones.
func SplitReply(text string) domain.ReplyEnvelope {
	env := domain.ReplyEnvelope{Text: text}
	for _, part := range strings.Split(text, domain.ReplyDelimiter) {
		if part = strings.TrimSpace(part); part != "" {
			env.Parts = append(env.Parts, part)
		}
	}
	return env
}

// Dispatcher posts reply parts in order, through the server's webhook when
// one is configured and as native bot messages otherwise.
type Dispatcher struct {
	platform domain.Platform
	backoff  time.Duration
	fallback bool
	logger   *slog.Logger
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Platform          domain.Platform
	RetryBackoff      time.Duration // wait before the single webhook retry; 0 uses 500ms
	FallbackToChannel bool          // send native messages when the webhook keeps failing
	Logger            *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		platform: cfg.Platform,
		backoff:  cfg.RetryBackoff,
		fallback: cfg.FallbackToChannel,
		logger:   cfg.Logger,
	}
}

// Dispatch sends every part of env, one after another, and returns the
// number of parts delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.ConversationMessage, cfg domain.ServerConfig, env domain.ReplyEnvelope) (int, error) {
	if len(env.Parts) == 0 {
		return 0, nil
	}
	if cfg.Webhook != nil {
		return d.viaWebhook(ctx, msg, cfg, env.Parts)
	}
	return d.native(ctx, msg, env.Parts, true)
}

func (d *Dispatcher) viaWebhook(ctx context.Context, msg domain.ConversationMessage, cfg domain.ServerConfig, parts []string) (int, error) {
	hook := *cfg.Webhook
	for i, part := range parts {
		err := d.executeWithRetry(ctx, hook, part, cfg.Name(), cfg.AvatarURL)
		if err == nil {
			metrics.RepliesSent.Inc()
			continue
		}
		if !d.fallback || ctx.Err() != nil {
			return i, fmt.Errorf("webhook send part %d: %w", i+1, err)
		}
		d.logger.Warn("webhook send failed, falling back to channel messages",
			"server", cfg.ServerID, "part", i+1, "err", err)
		n, ferr := d.native(ctx, msg, parts[i:], false)
		return i + n, ferr
	}
	return len(parts), nil
}

// executeWithRetry makes one webhook attempt, waits, then tries once more.
func (d *Dispatcher) executeWithRetry(ctx context.Context, hook domain.WebhookIdentity, content, name, avatar string) error {
	err := d.platform.ExecuteWebhook(ctx, hook, content, name, avatar)
	if err == nil {
		return nil
	}
	metrics.DispatchFailures.Inc()
	d.logger.Warn("webhook send failed, retrying", "webhook", hook.ID, "backoff", d.backoff, "err", err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.backoff):
	}

	if err = d.platform.ExecuteWebhook(ctx, hook, content, name, avatar); err != nil {
		metrics.DispatchFailures.Inc()
		return err
	}
	return nil
}

// native sends parts as bot messages. When threadFirst is set the first part
// replies to the triggering message.
func (d *Dispatcher) native(ctx context.Context, msg domain.ConversationMessage, parts []string, threadFirst bool) (int, error) {
	for i, part := range parts {
		var err error
		if i == 0 && threadFirst {
			err = d.platform.Reply(ctx, msg.ChannelID, msg.ID, part)
		} else {
			err = d.platform.Send(ctx, msg.ChannelID, part)
		}
		if err != nil {
			metrics.DispatchFailures.Inc()
			return i, fmt.Errorf("send part %d: %w", i+1, err)
		}
		metrics.RepliesSent.Inc()
	}
	return len(parts), nil
}
