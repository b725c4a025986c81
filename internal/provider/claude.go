package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"lurkbot/internal/domain"
)

const (
	claudeDefaultModel = "claude-sonnet-4-5"
	defaultMaxTokens   = 1024
)

// Claude implements domain.Provider on the Anthropic Messages API.
type Claude struct {
	apiKey string
	model  string
	client anthropic.Client
	logger *slog.Logger
}

type ClaudeConfig struct {
	APIKey  string
	APIBase string // optional, for Anthropic-compatible gateways
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(SharedHTTPClient(cfg.Timeout)),
		option.WithMaxRetries(maxRetries),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	return &Claude{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		client: anthropic.NewClient(opts...),
		logger: cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("claude not reachable: %w", err)
	}
	return nil
}

func toClaudeMessage(m domain.Message) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	if m.IsMultipart() {
		for _, p := range m.Parts {
			switch p.Type {
			case domain.PartImageURL:
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfURL: &anthropic.URLImageSourceParam{URL: p.ImageURL},
						},
					},
				})
			default:
				blocks = append(blocks, anthropic.NewTextBlock(p.Text))
			}
		}
	} else {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	if m.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

// Chat returns the response content blocks as []TextBlock, one per text block.
func (c *Claude) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toClaudeMessage(m))
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude request: %w", err)
	}

	blocks := make([]TextBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		if b.Type == "text" {
			blocks = append(blocks, TextBlock{Type: "text", Text: b.Text})
		}
	}
	c.logger.Debug("claude response", "model", model, "blocks", len(blocks), "stop", msg.StopReason)

	return &domain.ChatResponse{
		Content:      blocks,
		FinishReason: string(msg.StopReason),
		Usage: domain.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
