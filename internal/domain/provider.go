package domain

import "context"

// Provider is the interface all LLM backends implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

// PartType classifies a user-message part.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ContentPart is one segment of a multi-part user message.
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

type Message struct {
	Role    string        `json:"role"` // system | user | assistant
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"` // when set, takes precedence over Content
}

// IsMultipart reports whether the message carries structured parts.
func (m Message) IsMultipart() bool { return len(m.Parts) > 0 }

type ChatRequest struct {
	System      string
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse carries the raw model content. Backends return whatever shape
// the provider produced: a string, a list of strings, or a list of text
// records. Callers normalise it with provider.ContentText.
type ChatResponse struct {
	Content      any
	FinishReason string
	Usage        Usage
	LatencyMs    int64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
