package llmrelay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stackbound/llmrelay/internal/metrics"
)

// maxFallbackDepth caps cross-model fallback hops so a fallback cycle in
// the configuration cannot loop forever.
const maxFallbackDepth = 8

// Upstream is one accepted upstream answer with its body still unread,
// ready to relay to the inbound client. Close releases the body and the
// attempt's context; callers must Close exactly once, after relaying.
type Upstream struct {
	Provider *Provider
	// Model is the model name the winning attempt was made with. It differs
	// from the requested model after a cross-model fallback hop.
	Model  string
	Status int
	Header http.Header
	Body   io.ReadCloser
	// RequestBody is the serialized outbound request, kept for telemetry.
	RequestBody []byte

	cancel context.CancelFunc
}

// Close drains nothing; it closes the body and cancels the attempt
// context. Safe on a zero-value cancel.
func (u *Upstream) Close() {
	if u.Body != nil {
		_ = u.Body.Close()
	}
	if u.cancel != nil {
		u.cancel()
	}
}

// AttemptFunc performs a single upstream round trip against one provider
// for one model. It returns an Upstream for any final answer (2xx and 4xx
// alike) and an error for retryable failures: timeouts, connection
// failures and 5xx statuses, the last with the body already consumed into
// the error message.
type AttemptFunc func(ctx context.Context, p *Provider, model string) (*Upstream, error)

// Dispatcher runs the dispatch state machine over a config snapshot.
type Dispatcher struct {
	Store   *Store
	Attempt AttemptFunc
	Logger  *slog.Logger
}

// Execute resolves the model against the current snapshot and walks the
// dispatch state machine: a serial attempt on the selected primary, then a
// concurrent race across the remaining candidates, then a cross-model hop
// to the primary's fallback, until an answer arrives or the pool is
// exhausted.
//
// Providers are ordered by SelectProviders using the request's routing
// keys; the keys only influence ordering, never eligibility.
func (d *Dispatcher) Execute(ctx context.Context, model string, keys []RoutingKey) (*Upstream, error) {
	cfg := d.Store.Snapshot()

	var tried []string
	var lastErr *Error

	for depth := 0; depth < maxFallbackDepth; depth++ {
		candidates := MatchProviders(cfg, model)
		if len(candidates) == 0 {
			if depth == 0 {
				return nil, ErrModelNotFound(model)
			}
			break
		}
		ordered := SelectProviders(candidates, keys)
		primary := ordered[0]

		up, err := d.attemptOne(ctx, primary, model)
		tried = append(tried, primary.Name)
		if err == nil {
			return up, nil
		}
		lastErr = asError(err)
		if !lastErr.Retryable() {
			return nil, lastErr
		}
		d.Logger.Warn("primary attempt failed",
			"provider", primary.Name, "model", model, "error", lastErr.Message)

		if len(ordered) > 1 {
			up, raced, rerr := d.race(ctx, ordered[1:], model)
			tried = append(tried, raced...)
			if rerr == nil {
				return up, nil
			}
			lastErr = asError(rerr)
			if !lastErr.Retryable() {
				return nil, lastErr
			}
		}

		if primary.Fallback == "" || primary.Fallback == model {
			break
		}
		d.Logger.Info("falling back to sibling model",
			"from", model, "to", primary.Fallback)
		metrics.FallbackHops.WithLabelValues(model, primary.Fallback).Inc()
		model = primary.Fallback
	}

	return nil, exhausted(tried, lastErr)
}

// attemptOne runs one attempt under its own cancelable context. On
// success the cancel is handed to the Upstream so the context stays live
// until the body has been relayed.
func (d *Dispatcher) attemptOne(ctx context.Context, p *Provider, model string) (*Upstream, error) {
	actx, cancel := context.WithCancel(ctx)
	up, err := d.Attempt(actx, p, model)
	if err != nil {
		cancel()
		return nil, err
	}
	up.cancel = cancel
	return up, nil
}

// race fans out one attempt per remaining candidate and returns the first
// answer, canceling the losers. 4xx answers win the race like 2xx ones:
// the upstream has spoken, so nothing later may override it. The second
// return value lists the providers in completion order, for the tried
// list. When every sibling fails the result is the last failure observed.
func (d *Dispatcher) race(ctx context.Context, siblings []*Provider, model string) (*Upstream, []string, error) {
	type result struct {
		p   *Provider
		up  *Upstream
		err error
	}
	results := make(chan result, len(siblings))

	cancels := make([]context.CancelFunc, len(siblings))
	for i, p := range siblings {
		actx, cancel := context.WithCancel(ctx)
		cancels[i] = cancel
		go func(p *Provider, actx context.Context, cancel context.CancelFunc) {
			up, err := d.Attempt(actx, p, model)
			if up != nil {
				up.cancel = cancel
			}
			results <- result{p: p, up: up, err: err}
		}(p, actx, cancel)
	}

	cancelOthers := func(winner *Provider) {
		for i, p := range siblings {
			if p != winner {
				cancels[i]()
			}
		}
	}

	var raced []string
	var lastErr error
	for range siblings {
		res := <-results
		raced = append(raced, res.p.Name)
		if res.err == nil {
			cancelOthers(res.p)
			// Stragglers resolve into the buffered channel; drain them in
			// the background so canceled bodies get closed.
			go func(pending int) {
				for i := 0; i < pending; i++ {
					if late := <-results; late.up != nil {
						late.up.Close()
					}
				}
			}(len(siblings) - len(raced))
			return res.up, raced, nil
		}
		lastErr = res.err
		d.Logger.Warn("raced attempt failed",
			"provider", res.p.Name, "model", model, "error", res.err)
	}
	return nil, raced, lastErr
}

// exhausted builds the terminal error for a fully failed dispatch. The
// tried list is appended to the last failure's message so the caller can
// see the whole path the request took.
func exhausted(tried []string, last *Error) *Error {
	if last == nil {
		last = Errorf(KindInternal, "no upstream provider available")
	}
	msg := last.Message
	if len(tried) > 0 {
		msg = fmt.Sprintf("%s (Tried: [%s])", msg, strings.Join(tried, ", "))
	}
	return &Error{Kind: last.Kind, Status: last.Status, Message: msg}
}

func asError(err error) *Error {
	if re, ok := err.(*Error); ok {
		return re
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}
