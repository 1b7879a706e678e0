package upstream

import (
	"bufio"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/logging"
	"github.com/stackbound/llmrelay/internal/metrics"
	"github.com/stackbound/llmrelay/internal/telemetry"
	"github.com/stackbound/llmrelay/payload"
)

// accumulatorBuffer sizes the chunk channel feeding the accumulator
// goroutine. The consumer only appends to in-memory builders, so it never
// falls far behind.
const accumulatorBuffer = 256

// keepAliveInterval is how often an SSE comment ping is emitted while the
// upstream is silent, holding the connection open through long upstream
// think-time.
const keepAliveInterval = 15 * time.Second

// RelaySSE forwards a 2xx streaming upstream body to the client as SSE,
// splicing the special prefix into the first non-empty content delta and
// passing data: [DONE] through verbatim. Every forwarded chunk is also
// fed to a per-stream accumulator goroutine, which synthesizes a
// non-streaming-shaped body for telemetry when the stream ends.
//
// The caller must have verified up.Status is 2xx; non-2xx streaming
// requests degrade to the plain JSON error path.
func (c *Caller) RelaySSE(w http.ResponseWriter, r *http.Request, up *llmrelay.Upstream, sink Sink) {
	defer up.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		llmrelay.WriteError(w, llmrelay.Errorf(llmrelay.KindInternal,
			"response writer does not support streaming"))
		return
	}

	isChat := c.Payload.Kind == payload.KindChat
	prefix := up.Provider.SpecialPrefix
	prefixApplied := false

	feed := make(chan []byte, accumulatorBuffer)
	go c.accumulate(feed, r.Header, logging.ClientIP(r), up, sink, isChat)
	defer close(feed)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan string)
	go readEvents(up, events, r.Context().Done())

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-events:
			if !ok {
				return
			}
			if data == "[DONE]" {
				_, _ = w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				continue
			}
			out := data
			var chunk map[string]any
			if err := json.Unmarshal([]byte(data), &chunk); err == nil {
				if !prefixApplied && prefix != "" && splicePrefix(chunk, isChat, prefix) {
					prefixApplied = true
				}
				if reencoded, err := json.MarshalWithOption(chunk, json.DisableHTMLEscape()); err == nil {
					out = string(reencoded)
				}
				feed <- []byte(out)
			}
			_, _ = w.Write([]byte("data: " + out + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// readEvents parses the upstream body as SSE and delivers each event's
// data payload. Multi-line data fields join with newlines; comment and
// non-data fields are dropped. The channel closes when the body ends or
// the client is gone.
func readEvents(up *llmrelay.Upstream, events chan<- string, clientGone <-chan struct{}) {
	defer close(events)
	scanner := bufio.NewScanner(up.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)

	var data []string
	emit := func() bool {
		if len(data) == 0 {
			return true
		}
		joined := strings.Join(data, "\n")
		data = data[:0]
		select {
		case events <- joined:
			return true
		case <-clientGone:
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !emit() {
				return
			}
			continue
		}
		if value, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
	// Flush a final event that arrived without a trailing blank line.
	emit()
}

// splicePrefix prepends the prefix to the chunk's content field when it
// exists and is non-empty, reporting whether it did.
func splicePrefix(chunk map[string]any, isChat bool, prefix string) bool {
	choices, ok := chunk["choices"].([]any)
	if !ok || len(choices) == 0 {
		return false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return false
	}
	if isChat {
		delta, ok := choice["delta"].(map[string]any)
		if !ok {
			return false
		}
		if s, ok := delta["content"].(string); ok && s != "" {
			delta["content"] = prefix + s
			return true
		}
		return false
	}
	if s, ok := choice["text"].(string); ok && s != "" {
		choice["text"] = prefix + s
		return true
	}
	return false
}

// accumulate owns the per-stream accumulator: it drains the feed, then
// synthesizes the telemetry record once the stream closes.
func (c *Caller) accumulate(feed <-chan []byte, headers http.Header, ip string, up *llmrelay.Upstream, sink Sink, isChat bool) {
	acc := NewAccumulator(isChat)
	for chunk := range feed {
		acc.Consume(chunk)
	}
	final := acc.Synthesize()
	if final == nil {
		return
	}
	rec := telemetry.Build(headers, ip, up.Model, c.Payload.RecordType(),
		c.Payload.Tool(), c.Payload.Multimodal(), up.RequestBody, final)
	metrics.TokensInput.WithLabelValues(up.Provider.Name, up.Model).Add(float64(rec.PromptTokens))
	metrics.TokensOutput.WithLabelValues(up.Provider.Name, up.Model).Add(float64(rec.CompletionTokens))
	if sink != nil {
		sink.Log(rec)
	}
}
