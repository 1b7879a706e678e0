package payload

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
)

func boolPtr(b bool) *bool { return &b }

func chatPayload(messages ...Message) *RequestPayload {
	return NewChat(&ChatRequest{Model: "gpt-x", Messages: messages})
}

func userMsg(text string) Message {
	return Message{Role: "user", Content: Str(text)}
}

func TestMessageContentUnmarshal(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &m); err != nil {
		t.Fatal(err)
	}
	if m.Content.IsParts || m.Content.Text != "hi" {
		t.Errorf("string content parsed as %+v", m.Content)
	}

	raw := `{"role":"user","content":[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"http://x"}}]}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	if !m.Content.IsParts || len(m.Content.Parts) != 2 {
		t.Fatalf("parts content parsed as %+v", m.Content)
	}
	if m.Content.PlainText() != "a" {
		t.Errorf("PlainText = %q, want %q", m.Content.PlainText(), "a")
	}
}

func TestStreaming(t *testing.T) {
	p := NewChat(&ChatRequest{Model: "m", Stream: boolPtr(true)})
	if !p.Streaming() {
		t.Error("chat stream=true not detected")
	}
	if chatPayload().Streaming() {
		t.Error("absent stream flag must default to false")
	}
	if NewEmbedding(&EmbeddingRequest{Model: "m"}).Streaming() {
		t.Error("embeddings can never stream")
	}
}

func TestEndpointAndRecordType(t *testing.T) {
	tests := []struct {
		p        *RequestPayload
		endpoint string
		record   string
	}{
		{chatPayload(), "chat/completions", "chat.completions"},
		{NewCompletion(&CompletionRequest{Model: "m"}), "completions", "text_completion"},
		{NewEmbedding(&EmbeddingRequest{Model: "m"}), "embeddings", "embeddings"},
		{NewRerank(&RerankRequest{Model: "m"}), "rerank", "rerank"},
		{NewAudio(&AudioRequest{Model: "m", Endpoint: "audio/transcriptions"}), "audio/transcriptions", "audio/transcriptions"},
	}
	for _, tt := range tests {
		if got := tt.p.EndpointPath(); got != tt.endpoint {
			t.Errorf("EndpointPath = %q, want %q", got, tt.endpoint)
		}
		if got := tt.p.RecordType(); got != tt.record {
			t.Errorf("RecordType = %q, want %q", got, tt.record)
		}
	}
}

func TestToolAndMultimodal(t *testing.T) {
	plain := chatPayload(userMsg("hi"))
	if plain.Tool() || plain.Multimodal() {
		t.Error("plain chat flagged as tool/multimodal")
	}

	withTools := NewChat(&ChatRequest{
		Model:    "m",
		Messages: []Message{userMsg("hi")},
		Tools:    json.RawMessage(`[{"type":"function"}]`),
	})
	if !withTools.Tool() {
		t.Error("tools field not detected")
	}

	withImage := chatPayload(Message{Role: "user", Content: &MessageContent{
		IsParts: true,
		Parts: []ContentPart{
			{Type: "text", Text: "what is this"},
			{Type: "image_url", ImageURL: json.RawMessage(`{"url":"http://x"}`)},
		},
	}})
	if !withImage.Multimodal() {
		t.Error("image part not detected")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       *RequestPayload
		wantErr bool
	}{
		{"valid chat", chatPayload(userMsg("hi")), false},
		{"chat without messages", chatPayload(), true},
		{"missing model", NewChat(&ChatRequest{Messages: []Message{userMsg("hi")}}), true},
		{"empty prompt", NewCompletion(&CompletionRequest{Model: "m"}), true},
		{"empty embedding input", NewEmbedding(&EmbeddingRequest{Model: "m", Input: json.RawMessage(`[]`)}), true},
		{"valid embedding", NewEmbedding(&EmbeddingRequest{Model: "m", Input: json.RawMessage(`"text"`)}), false},
		{"rerank without documents", NewRerank(&RerankRequest{Model: "m", Query: "q"}), true},
		{"score with null text", NewScore(&ScoreRequest{Model: "m", Text1: json.RawMessage(`null`), Text2: json.RawMessage(`"b"`)}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if _, isTyped := err.(*llmrelay.Error); !isTyped {
					t.Errorf("Validate must return *llmrelay.Error, got %T", err)
				}
			}
		})
	}
}

func TestRoutingKeysChat(t *testing.T) {
	long := strings.Repeat("x", 100)
	p := chatPayload(
		userMsg("short question"),
		Message{Role: "assistant", Content: Str("an answer")},
		userMsg(long),
		Message{Role: "user", Content: nil},
	)
	keys := p.RoutingKeys()
	if len(keys) != 2 {
		t.Fatalf("keys = %d, want 2 (user messages with content only)", len(keys))
	}
	if keys[0].Content != "short question" || keys[0].Weight != len("short question") {
		t.Errorf("key[0] = %+v", keys[0])
	}
	if len([]rune(keys[1].Content)) != 64 || keys[1].Weight != 100 {
		t.Errorf("key[1] = prefix %d runes weight %d, want 64/100", len([]rune(keys[1].Content)), keys[1].Weight)
	}
}

func TestRoutingKeysUnicode(t *testing.T) {
	// 70 CJK code points: the prefix must cut at 64 code points, not 64
	// bytes, and the weight counts code points.
	text := strings.Repeat("中", 70)
	p := NewCompletion(&CompletionRequest{Model: "m", Prompt: text})
	keys := p.RoutingKeys()
	if len(keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(keys))
	}
	if got := len([]rune(keys[0].Content)); got != 64 {
		t.Errorf("prefix = %d runes, want 64", got)
	}
	if keys[0].Weight != 70 {
		t.Errorf("weight = %d, want 70", keys[0].Weight)
	}
}

func TestRoutingKeysOtherKindsEmpty(t *testing.T) {
	p := NewEmbedding(&EmbeddingRequest{Model: "m", Input: json.RawMessage(`"text"`)})
	if keys := p.RoutingKeys(); keys != nil {
		t.Errorf("embedding routing keys = %v, want none", keys)
	}
}

func TestRoutingKeysPartsContent(t *testing.T) {
	p := chatPayload(Message{Role: "user", Content: &MessageContent{
		IsParts: true,
		Parts: []ContentPart{
			{Type: "text", Text: "first "},
			{Type: "image_url"},
			{Type: "text", Text: "second"},
		},
	}})
	keys := p.RoutingKeys()
	if len(keys) != 1 || keys[0].Content != "first second" {
		t.Fatalf("keys = %+v, want joined text parts", keys)
	}
}
