package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"lurkbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// sent records one outbound platform call.
type sent struct {
	kind    string // webhook | reply | send
	channel string
	replyTo string
	content string
	name    string
	avatar  string
}

// fakePlatform implements domain.Platform in memory.
type fakePlatform struct {
	mu          sync.Mutex
	botID       string
	history     []domain.ConversationMessage // newest first
	historyErr  error
	messages    map[string]*domain.ConversationMessage
	fetchErr    error
	webhookErrs []error // consumed per ExecuteWebhook call
	sendErr     error
	calls       []sent
}

func (f *fakePlatform) BotUserID() string { return f.botID }

func (f *fakePlatform) History(ctx context.Context, channelID, beforeID string, limit int) ([]domain.ConversationMessage, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ConversationMessage, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if m, ok := f.messages[messageID]; ok {
		return m, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakePlatform) ExecuteWebhook(ctx context.Context, hook domain.WebhookIdentity, content, username, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.webhookErrs) > 0 {
		err := f.webhookErrs[0]
		f.webhookErrs = f.webhookErrs[1:]
		if err != nil {
			return err
		}
	}
	f.calls = append(f.calls, sent{kind: "webhook", content: content, name: username, avatar: avatarURL})
	return nil
}

func (f *fakePlatform) Reply(ctx context.Context, channelID, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.calls = append(f.calls, sent{kind: "reply", channel: channelID, replyTo: messageID, content: content})
	return nil
}

func (f *fakePlatform) Send(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.calls = append(f.calls, sent{kind: "send", channel: channelID, content: content})
	return nil
}

func (f *fakePlatform) CreateWebhook(ctx context.Context, channelID, name string) (*domain.WebhookIdentity, error) {
	return nil, errors.New("not supported")
}

func (f *fakePlatform) DeleteWebhook(ctx context.Context, hook domain.WebhookIdentity) error {
	return nil
}

func (f *fakePlatform) Calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

// fakeProvider returns a fixed response and records the last request.
type fakeProvider struct {
	mu      sync.Mutex
	content any
	err     error
	block   chan struct{} // when set, Chat waits on it or ctx
	last    domain.ChatRequest
	calls   int
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) Healthy(ctx context.Context) error { return nil }

func (p *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	p.last = req
	p.calls++
	p.mu.Unlock()
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return &domain.ChatResponse{Content: p.content}, nil
}

func (p *fakeProvider) Last() domain.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// lookup is a static ServerLookup.
type lookup map[string]domain.ServerConfig

func (l lookup) Get(id string) (domain.ServerConfig, bool) {
	cfg, ok := l[id]
	return cfg, ok
}
