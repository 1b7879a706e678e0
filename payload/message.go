package payload

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ContentPart is one part of a multimodal message content list.
type ContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// MessageContent is either a plain string or a list of parts. The wire
// shape is untagged, so unmarshaling probes the first byte.
type MessageContent struct {
	Text    string
	Parts   []ContentPart
	IsParts bool
}

// Str builds a plain-string content.
func Str(s string) *MessageContent {
	return &MessageContent{Text: s}
}

// PlainText flattens the content to text: the string itself, or the
// concatenation of text parts.
func (c *MessageContent) PlainText() string {
	if !c.IsParts {
		return c.Text
	}
	var out string
	for _, part := range c.Parts {
		out += part.Text
	}
	return out
}

func (c *MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsParts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			c.IsParts = true
			return json.Unmarshal(data, &c.Parts)
		default:
			c.IsParts = false
			return json.Unmarshal(data, &c.Text)
		}
	}
	return fmt.Errorf("empty message content")
}

// Message is one chat turn. Content is optional: tool-call turns carry
// tool_calls with no content.
type Message struct {
	Role       string          `json:"role"`
	Content    *MessageContent `json:"content,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}
