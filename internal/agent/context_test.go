package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"lurkbot/internal/domain"
)

func TestBuildContext_Empty(t *testing.T) {
	if got := BuildContext(nil, true); got != "(no previous messages)" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildContext_Lines(t *testing.T) {
	history := []domain.ConversationMessage{
		{Author: "ana", Text: "  hello  "},
		{Author: "bo", Text: ""},
		{Author: "cy", Attachments: []string{"https://cdn/a.png"}},
	}
	want := "ana: hello\nbo: (no text)\ncy: (media)"
	if got := BuildContext(history, false); got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildContext_MediaSuffix(t *testing.T) {
	history := []domain.ConversationMessage{{Author: "ana", Attachments: []string{"https://cdn/a.png"}}}
	got := BuildContext(history, true)
	if !strings.Contains(got, "(media)") || !strings.HasSuffix(got, " [media: https://cdn/a.png]") {
		t.Fatalf("got %q", got)
	}
}

func TestBuildContext_TextWithMedia(t *testing.T) {
	history := []domain.ConversationMessage{{
		Author:      "ana",
		Text:        "look",
		Attachments: []string{"a1"},
		Embeds:      []domain.Embed{{ImageURL: "i1", VideoURL: "v1"}},
	}}
	if got := BuildContext(history, true); got != "ana: look [media: a1 i1 v1]" {
		t.Fatalf("got %q", got)
	}
}

func TestMediaURLs_Order(t *testing.T) {
	msg := domain.ConversationMessage{
		Attachments: []string{"a1", "a2"},
		Embeds: []domain.Embed{
			{ImageURL: "i1", ThumbnailURL: "t1", VideoURL: "v1"},
			{ThumbnailURL: "t2"},
			{},
		},
	}
	want := []string{"a1", "a2", "i1", "t1", "v1", "t2"}
	if got := MediaURLs(msg); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := MediaURLs(domain.ConversationMessage{}); len(got) != 0 {
		t.Fatalf("expected no urls, got %v", got)
	}
}

func TestCollectHistory_FiltersAndReverses(t *testing.T) {
	p := &fakePlatform{history: []domain.ConversationMessage{
		{ID: "4", Author: "dee", Text: "newest"},
		{ID: "3", Author: "bot", IsBot: true, Text: "beep"},
		{ID: "2", Author: "bo", Text: "middle"},
		{ID: "1", Author: "ana", Text: "oldest"},
	}}
	msg := domain.ConversationMessage{ID: "5", ChannelID: "c"}

	got := CollectHistory(context.Background(), p, msg, ContextOptions{Limit: 10, ExcludeBots: true}, testLogger())
	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if !reflect.DeepEqual(ids, []string{"1", "2", "4"}) {
		t.Fatalf("unexpected history order: %v", ids)
	}

	got = CollectHistory(context.Background(), p, msg, ContextOptions{Limit: 10}, testLogger())
	if len(got) != 4 {
		t.Fatalf("bots should be kept when ExcludeBots is off, got %d", len(got))
	}
}

func TestCollectHistory_SkipsCurrentMessage(t *testing.T) {
	p := &fakePlatform{history: []domain.ConversationMessage{{ID: "5"}, {ID: "4"}}}
	got := CollectHistory(context.Background(), p, domain.ConversationMessage{ID: "5"}, ContextOptions{}, testLogger())
	if len(got) != 1 || got[0].ID != "4" {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestCollectHistory_ErrorDegradesToEmpty(t *testing.T) {
	p := &fakePlatform{historyErr: errors.New("missing access")}
	got := CollectHistory(context.Background(), p, domain.ConversationMessage{ID: "5"}, ContextOptions{}, testLogger())
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %v", got)
	}
	if BuildContext(got, true) != "(no previous messages)" {
		t.Fatal("empty history should render the placeholder")
	}
}
