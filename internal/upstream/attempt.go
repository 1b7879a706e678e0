package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/metrics"
	"github.com/stackbound/llmrelay/payload"
)

// maxErrorBody bounds how much of a failed upstream body is read into an
// error message.
const maxErrorBody = 64 << 10

// Caller performs single upstream round trips for one inbound request.
// The dispatcher invokes Attempt once per (provider, model) pair; the
// payload itself is never mutated, so concurrent raced attempts can share
// it.
type Caller struct {
	Client  *http.Client
	Payload *payload.RequestPayload
	// Authorization is the inbound Authorization header value, forwarded
	// when the provider has no static key.
	Authorization string
	Logger        *slog.Logger
}

// Attempt sends the request to one provider and classifies the outcome.
// Final answers (2xx and 4xx) come back as an Upstream; retryable
// failures (transport errors, 5xx, malformed 2xx bodies) come back as a
// *llmrelay.Error. Non-streaming bodies are read and checked here so a
// provider emitting garbage still triggers fallback; streaming bodies
// stay live for the SSE relay.
func (c *Caller) Attempt(ctx context.Context, p *llmrelay.Provider, model string) (*llmrelay.Upstream, error) {
	var body []byte
	contentType := "application/json"
	var err error

	if c.Payload.Kind == payload.KindAudio {
		body, contentType, err = buildMultipart(c.Payload.Audio, model)
		if err != nil {
			return nil, llmrelay.Errorf(llmrelay.KindMultipart, "rebuilding multipart form: %v", err)
		}
	} else {
		body, err = c.Payload.BuildBody(payload.BodyOptions{
			Model:     model,
			MaxTokens: p.MaxTokens,
			Stop:      p.Stop,
		})
		if err != nil {
			return nil, llmrelay.Errorf(llmrelay.KindInternal, "serializing request body: %v", err)
		}
	}

	target := p.Origin() + "/" + c.Payload.EndpointPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, llmrelay.Errorf(llmrelay.KindInternal, "building upstream request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	if key := c.apiKey(p); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, c.classifyTransport(p, err)
	}

	if resp.StatusCode >= 500 {
		msg := c.statusError(resp)
		metrics.UpstreamErrors.WithLabelValues(p.Name, "status").Inc()
		return nil, &llmrelay.Error{
			Kind:    llmrelay.KindUpstreamStatus,
			Status:  resp.StatusCode,
			Message: msg,
		}
	}

	up := &llmrelay.Upstream{
		Provider:    p,
		Model:       model,
		Status:      resp.StatusCode,
		Header:      resp.Header,
		Body:        resp.Body,
		RequestBody: body,
	}
	if c.Payload.Kind == payload.KindAudio {
		up.RequestBody = nil
	}

	if c.Payload.Streaming() && resp.StatusCode < 300 {
		return up, nil
	}

	full, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(p.Name, "body").Inc()
		return nil, llmrelay.Errorf(llmrelay.KindMalformedUpstreamBody,
			"reading upstream body from %s: %v", p.Name, err)
	}
	if resp.StatusCode < 300 && c.Payload.Kind != payload.KindAudio && !json.Valid(full) {
		metrics.UpstreamErrors.WithLabelValues(p.Name, "body").Inc()
		return nil, llmrelay.Errorf(llmrelay.KindMalformedUpstreamBody,
			"upstream %s returned a non-JSON success body", p.Name)
	}
	up.Body = io.NopCloser(bytes.NewReader(full))
	return up, nil
}

// apiKey picks the credential for one provider: its static key when set,
// otherwise the inbound bearer token.
func (c *Caller) apiKey(p *llmrelay.Provider) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return strings.TrimPrefix(c.Authorization, "Bearer ")
}

func (c *Caller) classifyTransport(p *llmrelay.Provider, err error) *llmrelay.Error {
	var uerr *url.Error
	timeout := errors.Is(err, context.DeadlineExceeded)
	if errors.As(err, &uerr) && uerr.Timeout() {
		timeout = true
	}
	if timeout {
		metrics.UpstreamErrors.WithLabelValues(p.Name, "timeout").Inc()
		return llmrelay.Errorf(llmrelay.KindUpstreamTimeout, "request to %s timed out", p.Name)
	}
	metrics.UpstreamErrors.WithLabelValues(p.Name, "connect").Inc()
	return llmrelay.Errorf(llmrelay.KindUpstreamConnect, "failed to connect to %s: %v", p.Name, err)
}

// statusError consumes a 5xx body into an error message, bounded so a
// misbehaving upstream cannot balloon memory.
func (c *Caller) statusError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if len(body) == 0 {
		return "upstream returned " + resp.Status
	}
	return ExtractErrorMessage(body)
}

// buildMultipart rebuilds the cached multipart form with the effective
// model, so every attempt carries a fresh, fully readable body.
func buildMultipart(a *payload.AudioRequest, model string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, part := range a.Parts {
		if part.Name == "model" {
			if err := w.WriteField("model", model); err != nil {
				return nil, "", err
			}
			continue
		}
		var fw io.Writer
		var err error
		if part.FileName != "" {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition",
				`form-data; name="`+part.Name+`"; filename="`+part.FileName+`"`)
			if part.ContentType != "" {
				h.Set("Content-Type", part.ContentType)
			}
			fw, err = w.CreatePart(h)
		} else {
			fw, err = w.CreateFormField(part.Name)
		}
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(part.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
