// Package upstream implements the response pipeline: one round trip per
// dispatch attempt, then the relay of the accepted answer to the inbound
// client, non-streaming JSON or transformed SSE.
package upstream

import (
	"net/http"
	"time"
)

// Timeouts for upstream round trips. The header timeout bounds
// time-to-first-byte; generation can then stream for minutes, so the
// overall deadline is much larger.
const (
	headerTimeout = 60 * time.Second
	bodyTimeout   = 180 * time.Second
)

// NewClient builds the process-wide HTTP client. One instance is shared
// by all attempts so upstream connections are pooled and reused.
func NewClient() *http.Client {
	return &http.Client{
		Timeout: bodyTimeout,
		Transport: &http.Transport{
			MaxIdleConns:          200,
			MaxIdleConnsPerHost:   50,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}
