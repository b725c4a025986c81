package agent

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"lurkbot/internal/bus"
	"lurkbot/internal/domain"
)

type pipeline struct {
	loop     *Loop
	platform *fakePlatform
	provider *fakeProvider
	pool     *Pool
}

func newPipeline(t *testing.T, servers lookup, chance float64, content any) *pipeline {
	t.Helper()
	platform := &fakePlatform{botID: "bot"}
	prov := &fakeProvider{content: content}
	pool := NewPool(2, testLogger())
	t.Cleanup(pool.Close)

	loop := NewLoop(LoopConfig{
		Platform: platform,
		Servers:  servers,
		Decider:  newTestDecider(chance, platform),
		Responder: NewResponder(ResponderConfig{
			Provider: prov,
			Pool:     pool,
			Timeout:  time.Second,
			Logger:   testLogger(),
		}),
		Dispatcher: newTestDispatcher(platform, true),
		Context:    ContextOptions{Limit: 10, ExcludeBots: true, IncludeMedia: true},
		Logger:     testLogger(),
	})
	return &pipeline{loop: loop, platform: platform, provider: prov, pool: pool}
}

func TestLoop_NativeReplyScenario(t *testing.T) {
	cfg := watched()
	cfg.Webhook = nil
	p := newPipeline(t, lookup{"g1": cfg}, 1, "hi|||how are you")

	out, err := p.loop.Handle(context.Background(), human("hello"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !out.Decision.Reply || out.Decision.Path != PathRandom || out.Sent != 2 || out.RunID == "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	calls := p.platform.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 sends, got %v", kinds(calls))
	}
	if calls[0].kind != "reply" || calls[0].content != "hi" || calls[0].replyTo != "m1" {
		t.Fatalf("first part should be a threaded reply: %+v", calls[0])
	}
	if calls[1].kind != "send" || calls[1].content != "how are you" {
		t.Fatalf("second part should be a channel message: %+v", calls[1])
	}

	req := p.provider.Last()
	if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
		t.Fatalf("user message should be the trigger text: %+v", req.Messages)
	}
}

func TestLoop_ContextAndMedia(t *testing.T) {
	p := newPipeline(t, lookup{"g1": watched()}, 1, "ok")
	p.platform.history = []domain.ConversationMessage{
		{ID: "m0", Author: "bo", Attachments: []string{"https://cdn/cat.png"}},
	}
	msg := human("")
	msg.Embeds = []domain.Embed{{ImageURL: "https://cdn/dog.png"}}

	if _, err := p.loop.Handle(context.Background(), msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	req := p.provider.Last()
	user := req.Messages[0]
	if !user.IsMultipart() || user.Parts[0].Text != "(no text)" || user.Parts[1].ImageURL != "https://cdn/dog.png" {
		t.Fatalf("unexpected user message: %+v", user)
	}
	wantLine := "bo: (media) [media: https://cdn/cat.png]"
	if !containsLine(req.System, wantLine) {
		t.Fatalf("system prompt missing %q:\n%s", wantLine, req.System)
	}
}

func containsLine(text, line string) bool {
	return slices.Contains(strings.Split(text, "\n"), line)
}

func TestLoop_SkipsWithoutCallingModel(t *testing.T) {
	p := newPipeline(t, lookup{"g1": watched()}, 1, "never")

	own := human("Mika here")
	own.AuthorID = "bot"
	elsewhere := human("hello")
	elsewhere.GuildID = "g2"

	for _, msg := range []domain.ConversationMessage{own, elsewhere} {
		out, err := p.loop.Handle(context.Background(), msg)
		if err != nil || out.Decision.Reply {
			t.Fatalf("expected skip, got %+v, %v", out, err)
		}
	}
	if p.provider.calls != 0 || len(p.platform.Calls()) != 0 {
		t.Fatal("skipped messages must not reach the model or the channel")
	}
}

func TestLoop_ModelFailureSendsNothing(t *testing.T) {
	p := newPipeline(t, lookup{"g1": watched()}, 1, "")
	out, err := p.loop.Handle(context.Background(), human("mika?"))
	if err != nil || out.Sent != 0 || len(p.platform.Calls()) != 0 {
		t.Fatalf("unexpected: %+v, %v, %v", out, err, p.platform.Calls())
	}
}

type panickingLookup struct{}

func (panickingLookup) Get(string) (domain.ServerConfig, bool) { panic("corrupt cache") }

func TestLoop_RecoversPanic(t *testing.T) {
	p := newPipeline(t, nil, 1, "x")
	p.loop.servers = panickingLookup{}
	if _, err := p.loop.Handle(context.Background(), human("hello")); err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestLoop_RunDrainsOnClose(t *testing.T) {
	cfg := watched()
	p := newPipeline(t, lookup{"g1": cfg}, 1, "a|||b")
	b := bus.New(4, testLogger())
	p.loop.bus = b

	done := make(chan struct{})
	go func() {
		p.loop.Run(context.Background())
		close(done)
	}()

	b.Publish(domain.Event{Message: human("hello"), Received: time.Now()})
	b.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after bus close")
	}
	p.loop.Wait()

	if got := kinds(p.platform.Calls()); len(got) != 2 || got[0] != "webhook:a" || got[1] != "webhook:b" {
		t.Fatalf("unexpected sends: %v", got)
	}
}

func TestLoop_PartsSentAsSplit(t *testing.T) {
	cfg := watched()
	cfg.Webhook = nil
	p := newPipeline(t, lookup{"g1": cfg}, 1, "Mika: honestly no|||model: fine")

	if _, err := p.loop.Handle(context.Background(), human("hello")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	calls := p.platform.Calls()
	if len(calls) != 2 || calls[0].content != "Mika: honestly no" || calls[1].content != "model: fine" {
		t.Fatalf("parts should go out unchanged, got %+v", calls)
	}
}

func TestLoop_StripLabels(t *testing.T) {
	cfg := watched()
	cfg.Webhook = nil
	p := newPipeline(t, lookup{"g1": cfg}, 1, "Mika: honestly no|||model: fine")
	p.loop.stripLabel = true

	if _, err := p.loop.Handle(context.Background(), human("hello")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	calls := p.platform.Calls()
	if len(calls) != 2 || calls[0].content != "honestly no" || calls[1].content != "fine" {
		t.Fatalf("labels should be stripped, got %+v", calls)
	}
}
