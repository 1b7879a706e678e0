package upstream

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/logging"
	"github.com/stackbound/llmrelay/internal/metrics"
	"github.com/stackbound/llmrelay/internal/telemetry"
	"github.com/stackbound/llmrelay/payload"
)

// Sink receives telemetry records off the request path.
type Sink interface {
	Log(rec *telemetry.Record)
}

// RelayJSON relays a non-streaming upstream answer to the inbound client:
// the body passes through verbatim with the upstream status, except that
// a configured special prefix is spliced into 2xx chat/completion
// content. Successful exchanges hand a record to the sink asynchronously;
// failed ones fill the access-log meta with the extracted error message
// and a truncated request-body snippet.
func (c *Caller) RelayJSON(w http.ResponseWriter, r *http.Request, up *llmrelay.Upstream, sink Sink) {
	defer up.Close()

	body, err := io.ReadAll(up.Body)
	if err != nil {
		llmrelay.WriteError(w, llmrelay.Errorf(llmrelay.KindMalformedUpstreamBody,
			"reading upstream body: %v", err))
		return
	}

	meta := logging.MetaFromContext(r.Context())
	success := up.Status < 300

	if success {
		if prefix := up.Provider.SpecialPrefix; prefix != "" {
			body = ApplyPrefix(body, prefix, c.Payload.Kind)
		}
		rec := telemetry.Build(r.Header, logging.ClientIP(r), up.Model, c.Payload.RecordType(),
			c.Payload.Tool(), c.Payload.Multimodal(), up.RequestBody, body)
		metrics.TokensInput.WithLabelValues(up.Provider.Name, up.Model).Add(float64(rec.PromptTokens))
		metrics.TokensOutput.WithLabelValues(up.Provider.Name, up.Model).Add(float64(rec.CompletionTokens))
		if sink != nil {
			go sink.Log(rec)
		}
	} else if meta != nil {
		meta.Error = ExtractErrorMessage(body)
		meta.RequestBody = logging.TruncateJSON(up.RequestBody)
	}

	contentType := up.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(up.Status)
	_, _ = w.Write(body)
}

// ApplyPrefix prepends the special prefix to every choice's content field
// of a non-streaming body: message.content for chat, text for completion.
// Other kinds, missing fields and empty content pass through untouched.
func ApplyPrefix(body []byte, prefix string, kind payload.Kind) []byte {
	if kind != payload.KindChat && kind != payload.KindCompletion {
		return body
	}
	isChat := kind == payload.KindChat
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	choices, ok := parsed["choices"].([]any)
	if !ok {
		return body
	}
	changed := false
	for _, raw := range choices {
		choice, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if isChat {
			msg, ok := choice["message"].(map[string]any)
			if !ok {
				continue
			}
			if s, ok := msg["content"].(string); ok && s != "" {
				msg["content"] = prefix + s
				changed = true
			}
			continue
		}
		if s, ok := choice["text"].(string); ok && s != "" {
			choice["text"] = prefix + s
			changed = true
		}
	}
	if !changed {
		return body
	}
	out, err := json.MarshalWithOption(parsed, json.DisableHTMLEscape())
	if err != nil {
		return body
	}
	return out
}
