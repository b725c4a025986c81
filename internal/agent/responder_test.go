package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"lurkbot/internal/domain"
	"lurkbot/internal/provider"
)

func newTestResponder(p domain.Provider, timeout time.Duration) *Responder {
	pool := NewPool(2, testLogger())
	return NewResponder(ResponderConfig{
		Provider:  p,
		Pool:      pool,
		Model:     "test-model",
		MaxTokens: 256,
		Timeout:   timeout,
		Logger:    testLogger(),
	})
}

func TestResponder_BuildRequest_TextOnly(t *testing.T) {
	r := newTestResponder(&fakeProvider{}, time.Second)
	defer r.pool.Close()

	req := r.BuildRequest(ReplyRequest{UserText: "hello", Context: "ana: hi", Name: "Mika"})
	if len(req.Messages) != 1 || req.Messages[0].IsMultipart() || req.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if !strings.HasPrefix(req.System, "YOU ARE Mika.") || !strings.Contains(req.System, "ana: hi") {
		t.Fatalf("unexpected system prompt: %q", req.System)
	}
	if req.Model != "test-model" || req.MaxTokens != 256 {
		t.Fatalf("model settings not carried: %+v", req)
	}
}

func TestResponder_BuildRequest_Media(t *testing.T) {
	r := newTestResponder(&fakeProvider{}, time.Second)
	defer r.pool.Close()

	req := r.BuildRequest(ReplyRequest{UserText: "look", MediaURLs: []string{"https://a/1.png", "https://a/2.png"}})
	parts := req.Messages[0].Parts
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if parts[0].Type != domain.PartText || parts[0].Text != "look" {
		t.Fatalf("first part should be the text: %+v", parts[0])
	}
	if parts[1].ImageURL != "https://a/1.png" || parts[2].ImageURL != "https://a/2.png" {
		t.Fatalf("image parts out of order: %+v", parts[1:])
	}
}

func TestResponder_Reply(t *testing.T) {
	cases := []struct {
		name    string
		content any
		want    string
	}{
		{"string", "  hi|||there ", "hi|||there"},
		{"raw list", json.RawMessage(`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`), "a b"},
		{"blocks", []provider.TextBlock{{Type: "text", Text: "yo"}}, "yo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestResponder(&fakeProvider{content: tc.content}, time.Second)
			defer r.pool.Close()
			got, ok := r.Reply(context.Background(), ReplyRequest{UserText: "hello"})
			if !ok || got != tc.want {
				t.Fatalf("got %q, %v; want %q", got, ok, tc.want)
			}
		})
	}
}

func TestResponder_ReplyFailures(t *testing.T) {
	errProvider := &fakeProvider{err: errors.New("503")}
	r := newTestResponder(errProvider, time.Second)
	defer r.pool.Close()
	if got, ok := r.Reply(context.Background(), ReplyRequest{UserText: "hello"}); ok || got != "" {
		t.Fatalf("provider error should yield no reply, got %q", got)
	}

	empty := newTestResponder(&fakeProvider{content: "   "}, time.Second)
	defer empty.pool.Close()
	if _, ok := empty.Reply(context.Background(), ReplyRequest{UserText: "hello"}); ok {
		t.Fatal("blank output should yield no reply")
	}
}

func TestResponder_Timeout(t *testing.T) {
	slow := &fakeProvider{content: "late", block: make(chan struct{})}
	defer close(slow.block)
	r := newTestResponder(slow, 40*time.Millisecond)
	defer r.pool.Close()

	start := time.Now()
	if _, ok := r.Reply(context.Background(), ReplyRequest{UserText: "hello"}); ok {
		t.Fatal("expected timeout to suppress the reply")
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not enforced")
	}
}
