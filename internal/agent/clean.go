package agent

import (
	"strings"
	"unicode/utf8"

	"lurkbot/internal/domain"
)

// leakedPrefixes are role labels some models echo at the start of a reply.
var leakedPrefixes = []string{
	"assistant\n",
	"assistant:\n",
	"assistant: ",
	"model: ",
}

// CleanParts strips speaker labels the model copied from the context format,
// such as "Mika: hi" or "assistant: hi", from every part and drops parts that
// end up empty. The loop only applies it when label stripping is enabled.
func CleanParts(env domain.ReplyEnvelope, name string) domain.ReplyEnvelope {
	parts := env.Parts[:0:0]
	for _, p := range env.Parts {
		if p = stripSpeaker(p, name); p != "" {
			parts = append(parts, p)
		}
	}
	env.Parts = parts
	return env
}

func stripSpeaker(part, name string) string {
	for _, p := range leakedPrefixes {
		if rest, ok := cutLabel(part, p); ok {
			part = rest
			break
		}
	}
	if name != "" {
		if rest, ok := cutLabel(part, name+":"); ok {
			part = rest
		}
	}
	return strings.TrimSpace(part)
}

// cutLabel removes label from the start of s under Unicode case folding.
// The compared prefix has as many runes as label, so offsets always come
// from s itself.
func cutLabel(s, label string) (string, bool) {
	end := 0
	for range utf8.RuneCountInString(label) {
		if end >= len(s) {
			return s, false
		}
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	if strings.EqualFold(s[:end], label) {
		return s[end:], true
	}
	return s, false
}
