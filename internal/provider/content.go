package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentText flattens a model response into plain text. It accepts a string,
// a list whose items are strings or records with a "text" field, or raw JSON
// holding either. Fragments are joined with single spaces; list items of any
// other shape are skipped. Anything else is formatted with fmt.Sprint. The
// result is trimmed.
func ContentText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return strings.TrimSpace(string(v))
		}
		return ContentText(decoded)
	case []string:
		return strings.TrimSpace(strings.Join(v, " "))
	case []TextBlock:
		parts := make([]string, 0, len(v))
		for _, b := range v {
			parts = append(parts, b.Text)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case map[string]any:
				if s, ok := it["text"].(string); ok {
					parts = append(parts, s)
				}
			case TextBlock:
				parts = append(parts, it.Text)
			}
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// TextBlock is a typed content fragment as returned by block-based APIs.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
