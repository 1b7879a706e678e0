// Package logging owns the relay's structured logging: a process-wide
// slog logger configured from the environment, a request ID minted (or
// adopted from X-Request-ID) per request, and the access-log side-band
// that handlers fill for the per-request summary line.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// Logger is the process-wide logger. Request-path code should go through
// FromContext so lines carry the request's trace ID.
var Logger = newLogger(os.Getenv("RELAY_LOG_LEVEL"), os.Getenv("RELAY_LOG_FORMAT"))

// Setup replaces the process-wide logger. level accepts
// debug/info/warn/error; format accepts "text", anything else meaning
// JSON.
func Setup(level, format string) {
	Logger = newLogger(level, format)
	slog.SetDefault(Logger)
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext returns the request's trace ID, or "".
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// FromContext returns the logger annotated with the context's trace ID.
func FromContext(ctx context.Context) *slog.Logger {
	if id := TraceIDFromContext(ctx); id != "" {
		return Logger.With("trace_id", id)
	}
	return Logger
}

func newTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Middleware tags every request with a trace ID, honoring an inbound
// X-Request-ID so the relay's lines correlate with the caller's, and
// echoes the ID back in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = newTraceID()
		}
		w.Header().Set("X-Request-ID", traceID)
		next.ServeHTTP(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}
