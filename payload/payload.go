// Package payload models the OpenAI-compatible request bodies the relay
// accepts and rebuilds for upstream providers: chat and text completion,
// embeddings, rerank, score, classify, and multipart audio. It owns the
// message preprocessing rules, the provider-side body adjustments
// (max_tokens clamp, stop merge), and routing-key extraction for the
// cache-affine selector.
package payload

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
)

// Kind discriminates the request payload variants.
type Kind int

const (
	KindChat Kind = iota
	KindCompletion
	KindEmbedding
	KindRerank
	KindScore
	KindClassify
	KindAudio
)

// ChatRequest is a /v1/chat/completions body. Fields the relay does not
// rewrite are carried as raw JSON.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	Stream      *bool           `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`

	ChatTemplateKwargs json.RawMessage `json:"chat_template_kwargs,omitempty"`
	StreamOptions      json.RawMessage `json:"stream_options,omitempty"`
}

// CompletionRequest is a /v1/completions body.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Stream      *bool    `json:"stream,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	StreamOptions json.RawMessage `json:"stream_options,omitempty"`
}

// EmbeddingRequest is a /v1/embeddings body. Input may be a string, a
// string list, or token arrays, so it stays raw.
type EmbeddingRequest struct {
	Model          string          `json:"model"`
	Input          json.RawMessage `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
	Dimensions     *int            `json:"dimensions,omitempty"`
	User           string          `json:"user,omitempty"`
}

// RerankRequest is a /v1/rerank body.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      *int     `json:"top_n,omitempty"`
}

// ScoreRequest is a /score body. Both texts may be a string or a list.
type ScoreRequest struct {
	Model string          `json:"model"`
	Text1 json.RawMessage `json:"text_1"`
	Text2 json.RawMessage `json:"text_2"`
}

// ClassifyRequest is a /classify body.
type ClassifyRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// MultipartPart is one cached part of an inbound multipart form, so the
// form can be rebuilt for every dispatch attempt.
type MultipartPart struct {
	Name        string
	Data        []byte
	FileName    string
	ContentType string
}

// AudioRequest is a parsed /v1/audio/* multipart request. Endpoint is
// the path suffix distinguishing transcriptions from translations.
type AudioRequest struct {
	Model    string
	Parts    []MultipartPart
	Endpoint string
}

// RequestPayload is the tagged union over all request kinds. Exactly one
// variant pointer is non-nil, matching Kind.
type RequestPayload struct {
	Kind       Kind
	Chat       *ChatRequest
	Completion *CompletionRequest
	Embedding  *EmbeddingRequest
	Rerank     *RerankRequest
	Score      *ScoreRequest
	Classify   *ClassifyRequest
	Audio      *AudioRequest
}

// NewChat wraps a chat request.
func NewChat(r *ChatRequest) *RequestPayload {
	return &RequestPayload{Kind: KindChat, Chat: r}
}

// NewCompletion wraps a text completion request.
func NewCompletion(r *CompletionRequest) *RequestPayload {
	return &RequestPayload{Kind: KindCompletion, Completion: r}
}

// NewEmbedding wraps an embeddings request.
func NewEmbedding(r *EmbeddingRequest) *RequestPayload {
	return &RequestPayload{Kind: KindEmbedding, Embedding: r}
}

// NewRerank wraps a rerank request.
func NewRerank(r *RerankRequest) *RequestPayload {
	return &RequestPayload{Kind: KindRerank, Rerank: r}
}

// NewScore wraps a score request.
func NewScore(r *ScoreRequest) *RequestPayload {
	return &RequestPayload{Kind: KindScore, Score: r}
}

// NewClassify wraps a classify request.
func NewClassify(r *ClassifyRequest) *RequestPayload {
	return &RequestPayload{Kind: KindClassify, Classify: r}
}

// NewAudio wraps a parsed audio multipart request.
func NewAudio(r *AudioRequest) *RequestPayload {
	return &RequestPayload{Kind: KindAudio, Audio: r}
}

// Model returns the requested model name.
func (p *RequestPayload) Model() string {
	switch p.Kind {
	case KindChat:
		return p.Chat.Model
	case KindCompletion:
		return p.Completion.Model
	case KindEmbedding:
		return p.Embedding.Model
	case KindRerank:
		return p.Rerank.Model
	case KindScore:
		return p.Score.Model
	case KindClassify:
		return p.Classify.Model
	case KindAudio:
		return p.Audio.Model
	}
	return ""
}

// Streaming reports whether the client asked for an SSE response. Only
// chat and text completion can stream.
func (p *RequestPayload) Streaming() bool {
	switch p.Kind {
	case KindChat:
		return p.Chat.Stream != nil && *p.Chat.Stream
	case KindCompletion:
		return p.Completion.Stream != nil && *p.Completion.Stream
	}
	return false
}

// EndpointPath returns the upstream path relative to a provider origin,
// without a leading slash.
func (p *RequestPayload) EndpointPath() string {
	switch p.Kind {
	case KindChat:
		return "chat/completions"
	case KindCompletion:
		return "completions"
	case KindEmbedding:
		return "embeddings"
	case KindRerank:
		return "rerank"
	case KindScore:
		return "score"
	case KindClassify:
		return "classify"
	case KindAudio:
		return p.Audio.Endpoint
	}
	return ""
}

// RecordType returns the request type string stored in telemetry records,
// matching the OpenAI object naming for completions.
func (p *RequestPayload) RecordType() string {
	switch p.Kind {
	case KindChat:
		return "chat.completions"
	case KindCompletion:
		return "text_completion"
	}
	return p.EndpointPath()
}

// Tool reports whether the request declares tools.
func (p *RequestPayload) Tool() bool {
	return p.Kind == KindChat && len(p.Chat.Tools) > 0
}

// Multimodal reports whether any chat message carries an image part.
func (p *RequestPayload) Multimodal() bool {
	if p.Kind != KindChat {
		return false
	}
	for _, msg := range p.Chat.Messages {
		if msg.Content == nil || !msg.Content.IsParts {
			continue
		}
		for _, part := range msg.Content.Parts {
			if part.Type == "image_url" {
				return true
			}
		}
	}
	return false
}

// Validate rejects requests the dispatcher must never see: a missing
// model, or an empty primary input for the kind.
func (p *RequestPayload) Validate() error {
	if p.Model() == "" {
		return llmrelay.Errorf(llmrelay.KindInvalidRequest, "model field is required")
	}
	switch p.Kind {
	case KindChat:
		if len(p.Chat.Messages) == 0 {
			return llmrelay.Errorf(llmrelay.KindInvalidRequest, "Request param messages not arr or arr is empty")
		}
	case KindCompletion:
		if p.Completion.Prompt == "" {
			return llmrelay.Errorf(llmrelay.KindInvalidRequest, "Request param prompt is empty")
		}
	case KindEmbedding:
		if emptyRaw(p.Embedding.Input) {
			return llmrelay.Errorf(llmrelay.KindInvalidRequest, "Request param input is empty")
		}
	case KindRerank:
		if p.Rerank.Query == "" || len(p.Rerank.Documents) == 0 {
			return llmrelay.Errorf(llmrelay.KindInvalidRequest, "Request param query or documents is empty")
		}
	case KindScore:
		if emptyRaw(p.Score.Text1) || emptyRaw(p.Score.Text2) {
			return llmrelay.Errorf(llmrelay.KindInvalidRequest, "Request param text_1 or text_2 is empty")
		}
	case KindClassify:
		if emptyRaw(p.Classify.Input) {
			return llmrelay.Errorf(llmrelay.KindInvalidRequest, "Request param input is empty")
		}
	case KindAudio:
		if len(p.Audio.Parts) == 0 {
			return llmrelay.Errorf(llmrelay.KindMultipart, "multipart form has no parts")
		}
	}
	return nil
}

// emptyRaw reports whether a raw JSON value is absent or trivially empty:
// null, "", [] or {}.
func emptyRaw(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "[]", "{}":
		return true
	}
	return false
}
