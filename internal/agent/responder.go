package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"lurkbot/internal/domain"
	"lurkbot/internal/metrics"
	"lurkbot/internal/provider"
)

const defaultAITimeout = 60 * time.Second

// ReplyRequest is everything the model needs for one reply.
type ReplyRequest struct {
	UserText    string
	Context     string
	MediaURLs   []string
	Personality string
	Name        string
}

// Responder turns a ReplyRequest into model text. Calls run on the worker
// pool under a per-call deadline.
type Responder struct {
	provider    domain.Provider
	pool        *Pool
	prompt      PromptTemplate
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// ResponderConfig holds the dependencies of a Responder.
type ResponderConfig struct {
	Provider           domain.Provider
	Pool               *Pool
	SystemPrompt       string // template; empty uses DefaultSystemPrompt
	DefaultPersonality string // empty uses DefaultPersonality
	Model              string
	MaxTokens          int
	Temperature        float64
	Timeout            time.Duration
	Logger             *slog.Logger
}

func NewResponder(cfg ResponderConfig) *Responder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAITimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pool == nil {
		cfg.Pool = NewPool(defaultPoolWorkers, cfg.Logger)
	}
	return &Responder{
		provider:    cfg.Provider,
		pool:        cfg.Pool,
		prompt:      PromptTemplate{Template: cfg.SystemPrompt, Personality: cfg.DefaultPersonality},
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// BuildRequest assembles the provider request: the rendered system prompt and
// a user message that is plain text, or a text part followed by one image part
// per media URL.
func (r *Responder) BuildRequest(req ReplyRequest) domain.ChatRequest {
	user := domain.Message{Role: "user", Content: req.UserText}
	if len(req.MediaURLs) > 0 {
		user.Parts = make([]domain.ContentPart, 0, len(req.MediaURLs)+1)
		user.Parts = append(user.Parts, domain.ContentPart{Type: domain.PartText, Text: req.UserText})
		for _, u := range req.MediaURLs {
			user.Parts = append(user.Parts, domain.ContentPart{Type: domain.PartImageURL, ImageURL: u})
		}
	}
	return domain.ChatRequest{
		System:      r.prompt.Render(req.Name, req.Personality, req.Context),
		Messages:    []domain.Message{user},
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	}
}

// Reply returns the model's text. Failures, timeouts and empty output are
// logged and reported as ("", false).
func (r *Responder) Reply(ctx context.Context, req ReplyRequest) (string, bool) {
	chatReq := r.BuildRequest(req)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	metrics.AIRequests.Inc()
	start := time.Now()
	text, err := r.pool.Submit(ctx, func(ctx context.Context) (string, error) {
		resp, err := r.provider.Chat(ctx, chatReq)
		if err != nil || resp == nil {
			return "", err
		}
		return provider.ContentText(resp.Content), nil
	})
	metrics.AILatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AIFailures.Inc()
		r.logger.Error("model call failed", "provider", r.provider.Name(), "err", err)
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.AIFailures.Inc()
		r.logger.Warn("model returned no text", "provider", r.provider.Name())
		return "", false
	}
	return text, true
}
