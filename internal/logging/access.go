package logging

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// ClientIP infers the caller's address: first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// maskAPIKey keeps the first 8 characters of a bearer token for log
// correlation without leaking the credential.
func maskAPIKey(authorization string) string {
	if authorization == "" {
		return "-"
	}
	key := strings.TrimPrefix(authorization, "Bearer ")
	if len(key) > 10 {
		return key[:8] + "..."
	}
	return key
}

// AccessLog logs one nginx-combined-style line per request, enriched with
// the effective model, masked API key, latency and the error surfaced to
// the client. Handlers publish model and error through the Meta side-band;
// 4xx/5xx lines log at error level.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx, meta := WithMeta(r.Context())
		r = r.WithContext(ctx)

		next.ServeHTTP(ww, r)

		latency := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		userAgent := r.Header.Get("User-Agent")
		if userAgent == "" {
			userAgent = "-"
		}
		errMsg := meta.Error
		if errMsg == "" {
			errMsg = "-"
		}

		line := fmt.Sprintf("%s - - [%s] %q %d %d %q %q %.3fs %q %q %q",
			ClientIP(r),
			start.UTC().Format("02/Jan/2006:15:04:05 -0700"),
			r.Method+" "+r.URL.RequestURI()+" "+r.Proto,
			status,
			ww.BytesWritten(),
			"-",
			userAgent,
			latency.Seconds(),
			meta.Model,
			maskAPIKey(r.Header.Get("Authorization")),
			errMsg,
		)

		logger := FromContext(r.Context())
		if status >= 400 {
			if meta.RequestBody != "" {
				logger.Error(line, "request_body", meta.RequestBody)
			} else {
				logger.Error(line)
			}
		} else {
			logger.Info(line)
		}
	})
}
