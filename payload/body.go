package payload

import (
	"github.com/goccy/go-json"
)

// BodyOptions are the provider-side adjustments applied when rebuilding
// an outbound body for one attempt.
type BodyOptions struct {
	// Model is the effective model, which differs from the payload's after
	// a cross-model fallback hop.
	Model string
	// MaxTokens caps the request's max_tokens; zero means no cap.
	MaxTokens int
	// Stop is merged ahead of the request's stop list.
	Stop []string
}

// ClampMaxTokens resolves the effective max_tokens: the smaller of the
// provider cap and the requested value, whichever are present. A nil
// return means the field is omitted.
func ClampMaxTokens(cap int, requested *int) *int {
	switch {
	case cap > 0 && requested != nil:
		if *requested > cap {
			return &cap
		}
		return requested
	case cap > 0:
		return &cap
	default:
		return requested
	}
}

// MergeStop unions the provider stop words with the request's,
// provider-first, dropping duplicates while preserving first-occurrence
// order.
func MergeStop(provider, request []string) []string {
	if len(provider) == 0 {
		return request
	}
	merged := make([]string, 0, len(provider)+len(request))
	seen := make(map[string]bool, len(provider)+len(request))
	for _, lst := range [][]string{provider, request} {
		for _, w := range lst {
			if !seen[w] {
				seen[w] = true
				merged = append(merged, w)
			}
		}
	}
	return merged
}

type chatBody struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`

	ChatTemplateKwargs json.RawMessage `json:"chat_template_kwargs,omitempty"`
	StreamOptions      json.RawMessage `json:"stream_options,omitempty"`
}

type completionBody struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	StreamOptions json.RawMessage `json:"stream_options,omitempty"`
}

// BuildBody serializes the outbound JSON body for one attempt, applying
// the model override, the max_tokens clamp and the stop merge. Kinds
// other than chat and completion are forwarded with only the model
// rewritten. Audio payloads have no JSON body; callers rebuild the
// multipart form instead.
func (p *RequestPayload) BuildBody(opts BodyOptions) ([]byte, error) {
	switch p.Kind {
	case KindChat:
		r := p.Chat
		return json.Marshal(chatBody{
			Model:       opts.Model,
			Messages:    r.Messages,
			Stream:      p.Streaming(),
			Temperature: r.Temperature,
			MaxTokens:   ClampMaxTokens(opts.MaxTokens, r.MaxTokens),
			Stop:        MergeStop(opts.Stop, r.Stop),
			Tools:       r.Tools,

			ChatTemplateKwargs: r.ChatTemplateKwargs,
			StreamOptions:      r.StreamOptions,
		})
	case KindCompletion:
		r := p.Completion
		return json.Marshal(completionBody{
			Model:       opts.Model,
			Prompt:      r.Prompt,
			Stream:      p.Streaming(),
			Temperature: r.Temperature,
			MaxTokens:   ClampMaxTokens(opts.MaxTokens, r.MaxTokens),
			Stop:        MergeStop(opts.Stop, r.Stop),

			StreamOptions: r.StreamOptions,
		})
	case KindEmbedding:
		r := *p.Embedding
		r.Model = opts.Model
		return json.Marshal(&r)
	case KindRerank:
		r := *p.Rerank
		r.Model = opts.Model
		return json.Marshal(&r)
	case KindScore:
		r := *p.Score
		r.Model = opts.Model
		return json.Marshal(&r)
	case KindClassify:
		r := *p.Classify
		r.Model = opts.Model
		return json.Marshal(&r)
	}
	return nil, nil
}
