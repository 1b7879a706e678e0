package upstream

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/payload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testProvider(baseURL string) *llmrelay.Provider {
	return &llmrelay.Provider{
		Name:    "test",
		BaseURL: baseURL,
		ModelMatch: llmrelay.ModelMatch{
			Type: llmrelay.MatchExact, Value: []string{"gpt-x"},
		},
		Priority: 1,
	}
}

func chatCaller(req *payload.ChatRequest, auth string) *Caller {
	return &Caller{
		Client:        &http.Client{},
		Payload:       payload.NewChat(req),
		Authorization: auth,
		Logger:        testLogger(),
	}
}

func simpleChat() *payload.ChatRequest {
	return &payload.ChatRequest{
		Model:    "gpt-x",
		Messages: []payload.Message{{Role: "user", Content: payload.Str("hi")}},
	}
}

func TestAttemptSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL + "/v1/")
	p.MaxTokens = 128
	c := chatCaller(simpleChat(), "Bearer inbound-key")

	up, err := c.Attempt(context.Background(), p, "gpt-x")
	if err != nil {
		t.Fatal(err)
	}
	defer up.Close()

	if gotPath != "/v1/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer inbound-key" {
		t.Errorf("auth = %q, want forwarded inbound key", gotAuth)
	}
	if gotBody["max_tokens"] != float64(128) {
		t.Errorf("max_tokens = %v, want provider cap applied", gotBody["max_tokens"])
	}
	if up.Status != 200 {
		t.Errorf("status = %d", up.Status)
	}
	body, _ := io.ReadAll(up.Body)
	if !strings.Contains(string(body), "hello") {
		t.Errorf("body = %s", body)
	}
}

func TestAttemptProviderKeyOverridesInbound(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	p.APIKey = "sk-static"
	c := chatCaller(simpleChat(), "Bearer inbound-key")
	up, err := c.Attempt(context.Background(), p, "gpt-x")
	if err != nil {
		t.Fatal(err)
	}
	up.Close()
	if gotAuth != "Bearer sk-static" {
		t.Errorf("auth = %q, want provider static key", gotAuth)
	}
}

func TestAttempt4xxIsAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer srv.Close()

	c := chatCaller(simpleChat(), "")
	up, err := c.Attempt(context.Background(), testProvider(srv.URL), "gpt-x")
	if err != nil {
		t.Fatalf("4xx must be an answer, got error %v", err)
	}
	defer up.Close()
	if up.Status != 422 {
		t.Errorf("status = %d", up.Status)
	}
	body, _ := io.ReadAll(up.Body)
	if string(body) != `{"error":{"message":"bad"}}` {
		t.Errorf("4xx body must pass through verbatim, got %s", body)
	}
}

func TestAttempt5xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c := chatCaller(simpleChat(), "")
	_, err := c.Attempt(context.Background(), testProvider(srv.URL), "gpt-x")
	re, isTyped := err.(*llmrelay.Error)
	if !isTyped || re.Kind != llmrelay.KindUpstreamStatus {
		t.Fatalf("err = %v, want UpstreamStatus", err)
	}
	if re.Status != 502 || !re.Retryable() {
		t.Errorf("status = %d retryable = %v", re.Status, re.Retryable())
	}
	if re.Message != "overloaded" {
		t.Errorf("message = %q, want extracted upstream message", re.Message)
	}
}

func TestAttemptConnectFailure(t *testing.T) {
	// Reserved port with nothing listening.
	c := chatCaller(simpleChat(), "")
	_, err := c.Attempt(context.Background(), testProvider("http://127.0.0.1:1"), "gpt-x")
	re, isTyped := err.(*llmrelay.Error)
	if !isTyped || re.Kind != llmrelay.KindUpstreamConnect {
		t.Fatalf("err = %v, want UpstreamConnect", err)
	}
	if re.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", re.HTTPStatus())
	}
}

func TestAttemptMalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := chatCaller(simpleChat(), "")
	_, err := c.Attempt(context.Background(), testProvider(srv.URL), "gpt-x")
	re, isTyped := err.(*llmrelay.Error)
	if !isTyped || re.Kind != llmrelay.KindMalformedUpstreamBody {
		t.Fatalf("err = %v, want MalformedUpstreamBody", err)
	}
	if !re.Retryable() {
		t.Error("malformed body must be retryable")
	}
}

func TestAttemptModelOverride(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := chatCaller(simpleChat(), "")
	up, err := c.Attempt(context.Background(), testProvider(srv.URL), "gpt-fallback")
	if err != nil {
		t.Fatal(err)
	}
	up.Close()
	if gotModel != "gpt-fallback" {
		t.Errorf("model = %q, want effective model, not the payload's", gotModel)
	}
	if c.Payload.Model() != "gpt-x" {
		t.Error("attempt mutated the payload model")
	}
}
