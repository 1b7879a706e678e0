package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/logging"
	"github.com/stackbound/llmrelay/internal/metrics"
	"github.com/stackbound/llmrelay/internal/upstream"
	"github.com/stackbound/llmrelay/payload"
)

// server wires the dispatch engine to the HTTP surface. One instance
// serves all requests; per-request state lives in the handlers.
type server struct {
	store  *llmrelay.Store
	client *http.Client
	sink   upstream.Sink
	logger *slog.Logger
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req payload.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	req.Messages = payload.StripThinkTags(payload.ProcessMessages(req.Messages))
	s.dispatch(w, r, payload.NewChat(&req))
}

func (s *server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var req payload.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	s.dispatch(w, r, payload.NewCompletion(&req))
}

func (s *server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	var req payload.EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	s.dispatch(w, r, payload.NewEmbedding(&req))
}

func (s *server) handleRerank(w http.ResponseWriter, r *http.Request) {
	var req payload.RerankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	s.dispatch(w, r, payload.NewRerank(&req))
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req payload.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	s.dispatch(w, r, payload.NewScore(&req))
}

func (s *server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req payload.ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, r, llmrelay.Errorf(llmrelay.KindInvalidRequest, "invalid request body: %v", err))
		return
	}
	s.dispatch(w, r, payload.NewClassify(&req))
}

// dispatch runs one request through the dispatch state machine and relays
// the winning upstream answer.
func (s *server) dispatch(w http.ResponseWriter, r *http.Request, p *payload.RequestPayload) {
	meta := logging.MetaFromContext(r.Context())
	if meta != nil {
		meta.Model = p.Model()
	}
	if err := p.Validate(); err != nil {
		s.reject(w, r, err)
		return
	}

	caller := &upstream.Caller{
		Client:        s.client,
		Payload:       p,
		Authorization: r.Header.Get("Authorization"),
		Logger:        logging.FromContext(r.Context()),
	}
	d := &llmrelay.Dispatcher{
		Store:   s.store,
		Attempt: caller.Attempt,
		Logger:  logging.FromContext(r.Context()),
	}

	start := time.Now()
	up, err := d.Execute(r.Context(), p.Model(), p.RoutingKeys())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("-", p.Model(), "error").Inc()
		if meta != nil {
			if body, berr := p.BuildBody(payload.BodyOptions{Model: p.Model()}); berr == nil && body != nil {
				meta.RequestBody = logging.TruncateJSON(body)
			}
		}
		s.reject(w, r, err)
		return
	}
	if meta != nil {
		meta.Model = up.Model
	}
	outcome := "success"
	if up.Status >= 400 {
		outcome = "error"
	}
	metrics.RequestsTotal.WithLabelValues(up.Provider.Name, up.Model, outcome).Inc()
	metrics.RequestDuration.WithLabelValues(up.Provider.Name, up.Model).Observe(time.Since(start).Seconds())

	if p.Streaming() && up.Status < 300 {
		caller.RelaySSE(w, r, up, s.sink)
		return
	}
	caller.RelayJSON(w, r, up, s.sink)
}

// reject writes an error envelope and fills the access-log meta so the
// failure line carries the message and a truncated body snippet.
func (s *server) reject(w http.ResponseWriter, r *http.Request, err error) {
	if meta := logging.MetaFromContext(r.Context()); meta != nil {
		meta.Error = err.Error()
	}
	llmrelay.WriteError(w, err)
}
