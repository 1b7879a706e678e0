package payload

import (
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

func intPtr(i int) *int { return &i }

func TestClampMaxTokens(t *testing.T) {
	tests := []struct {
		name      string
		cap       int
		requested *int
		want      *int
	}{
		{"request above cap", 100, intPtr(500), intPtr(100)},
		{"request below cap", 100, intPtr(50), intPtr(50)},
		{"cap only", 100, nil, intPtr(100)},
		{"request only", 0, intPtr(50), intPtr(50)},
		{"neither", 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampMaxTokens(tt.cap, tt.requested)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil || *got != *tt.want:
				t.Errorf("ClampMaxTokens(%d, %v) = %v, want %v", tt.cap, tt.requested, got, tt.want)
			}
		})
	}
}

func TestMergeStop(t *testing.T) {
	tests := []struct {
		name     string
		provider []string
		request  []string
		want     []string
	}{
		{"both with overlap", []string{"###", "STOP"}, []string{"STOP", "\n\n"}, []string{"###", "STOP", "\n\n"}},
		{"provider only", []string{"###"}, nil, []string{"###"}},
		{"request only", nil, []string{"END"}, []string{"END"}},
		{"neither", nil, nil, nil},
		{"request dupes", nil, []string{"a", "a", "b"}, []string{"a", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeStop(tt.provider, tt.request)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MergeStop(%v, %v) = %v, want %v", tt.provider, tt.request, got, tt.want)
			}
		})
	}
}

func TestBuildBodyChat(t *testing.T) {
	temp := 0.7
	p := NewChat(&ChatRequest{
		Model:       "gpt-x",
		Messages:    []Message{userMsg("hi")},
		Stream:      boolPtr(true),
		Temperature: &temp,
		MaxTokens:   intPtr(900),
		Stop:        []string{"USER:"},
		Tools:       json.RawMessage(`[{"type":"function"}]`),
	})
	body, err := p.BuildBody(BodyOptions{Model: "gpt-fallback", MaxTokens: 512, Stop: []string{"###"}})
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["model"] != "gpt-fallback" {
		t.Errorf("model = %v, want override", out["model"])
	}
	if out["stream"] != true {
		t.Errorf("stream = %v, want true", out["stream"])
	}
	if out["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v, want clamped 512", out["max_tokens"])
	}
	stop, _ := out["stop"].([]any)
	if len(stop) != 2 || stop[0] != "###" || stop[1] != "USER:" {
		t.Errorf("stop = %v, want provider-first merge", stop)
	}
	if _, hasTools := out["tools"]; !hasTools {
		t.Error("tools dropped from rebuilt body")
	}
}

func TestBuildBodyKeepsUninterpretedFields(t *testing.T) {
	var req ChatRequest
	in := `{"model":"gpt-x","messages":[{"role":"user","content":"hi"}],"stream":true,` +
		`"stream_options":{"include_usage":true},"chat_template_kwargs":{"enable_thinking":false}}`
	if err := json.Unmarshal([]byte(in), &req); err != nil {
		t.Fatal(err)
	}
	body, err := NewChat(&req).BuildBody(BodyOptions{Model: "gpt-x"})
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	so, _ := out["stream_options"].(map[string]any)
	if so == nil || so["include_usage"] != true {
		t.Errorf("stream_options not forwarded: %s", body)
	}
	kw, _ := out["chat_template_kwargs"].(map[string]any)
	if kw == nil || kw["enable_thinking"] != false {
		t.Errorf("chat_template_kwargs not forwarded: %s", body)
	}
}

func TestBuildBodyCompletionKeepsStreamOptions(t *testing.T) {
	p := NewCompletion(&CompletionRequest{
		Model:         "m",
		Prompt:        "once",
		Stream:        boolPtr(true),
		StreamOptions: json.RawMessage(`{"include_usage":true}`),
	})
	body, err := p.BuildBody(BodyOptions{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if _, has := out["stream_options"]; !has {
		t.Errorf("stream_options not forwarded: %s", body)
	}
}

func TestBuildBodyCompletionOmitsAbsentFields(t *testing.T) {
	p := NewCompletion(&CompletionRequest{Model: "m", Prompt: "once upon"})
	body, err := p.BuildBody(BodyOptions{Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"temperature", "max_tokens", "stop"} {
		if _, present := out[field]; present {
			t.Errorf("field %q should be omitted when unset", field)
		}
	}
	if out["stream"] != false {
		t.Error("stream must always be serialized explicitly")
	}
}

func TestBuildBodyEmbeddingRewritesModelOnly(t *testing.T) {
	p := NewEmbedding(&EmbeddingRequest{
		Model: "orig",
		Input: json.RawMessage(`["a","b"]`),
	})
	body, err := p.BuildBody(BodyOptions{Model: "effective", MaxTokens: 100, Stop: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out["model"] != "effective" {
		t.Errorf("model = %v", out["model"])
	}
	if _, has := out["max_tokens"]; has {
		t.Error("clamp must not apply to embeddings")
	}
	if p.Embedding.Model != "orig" {
		t.Error("BuildBody mutated the payload")
	}
}
