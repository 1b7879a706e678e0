package payload

import (
	"regexp"
	"strings"
)

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ProcessMessages normalizes an inbound chat transcript: content is
// whitespace-trimmed, messages that end up empty without tool calls are
// dropped, and consecutive user messages collapse to the later one.
// The input slice is not modified.
func ProcessMessages(messages []Message) []Message {
	result := make([]Message, 0, len(messages))

	for _, msg := range messages {
		empty := false
		if msg.Content != nil {
			if msg.Content.IsParts {
				parts := make([]ContentPart, len(msg.Content.Parts))
				copy(parts, msg.Content.Parts)
				for i := range parts {
					if parts[i].Type == "text" {
						parts[i].Text = strings.TrimSpace(parts[i].Text)
					}
				}
				msg.Content = &MessageContent{Parts: parts, IsParts: true}
				empty = len(parts) == 0
			} else {
				trimmed := strings.TrimSpace(msg.Content.Text)
				msg.Content = Str(trimmed)
				empty = trimmed == ""
			}
		}
		if empty && msg.ToolCalls == nil {
			continue
		}

		if len(result) > 0 {
			last := &result[len(result)-1]
			if last.Role == "user" && msg.Role == "user" {
				*last = msg
				continue
			}
		}
		result = append(result, msg)
	}
	return result
}

// StripThinkTags removes <think>...</think> spans from assistant string
// content. Reasoning traces leaked back into the transcript would
// otherwise be re-sent as context on every turn.
func StripThinkTags(messages []Message) []Message {
	result := make([]Message, len(messages))
	copy(result, messages)
	for i, msg := range result {
		if msg.Role != "assistant" || msg.Content == nil || msg.Content.IsParts {
			continue
		}
		result[i].Content = Str(thinkTagRe.ReplaceAllString(msg.Content.Text, ""))
	}
	return result
}
