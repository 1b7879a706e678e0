package payload

import (
	"github.com/stackbound/llmrelay"
)

// anchorPrefixLen is the number of leading code points hashed per anchor.
const anchorPrefixLen = 64

// RoutingKeys derives the selector anchors for this request: one per
// non-empty chat user message, or one for a completion prompt. The anchor
// content is the text's first 64 code points; its weight is the full text
// length in code points, so long recurring contexts vote harder. Other
// kinds return nil and fall back to weighted random selection.
func (p *RequestPayload) RoutingKeys() []llmrelay.RoutingKey {
	switch p.Kind {
	case KindChat:
		var keys []llmrelay.RoutingKey
		for _, msg := range p.Chat.Messages {
			if msg.Role != "user" || msg.Content == nil {
				continue
			}
			if key, ok := anchorFor(msg.Content.PlainText()); ok {
				keys = append(keys, key)
			}
		}
		return keys
	case KindCompletion:
		if key, ok := anchorFor(p.Completion.Prompt); ok {
			return []llmrelay.RoutingKey{key}
		}
	}
	return nil
}

func anchorFor(text string) (llmrelay.RoutingKey, bool) {
	if text == "" {
		return llmrelay.RoutingKey{}, false
	}
	runes := []rune(text)
	prefix := runes
	if len(prefix) > anchorPrefixLen {
		prefix = prefix[:anchorPrefixLen]
	}
	return llmrelay.RoutingKey{Content: string(prefix), Weight: len(runes)}, true
}
