// Package metrics registers the Prometheus metrics used by the relay.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by provider, model, and
	// outcome ("success", "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of requests processed by the relay.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// UpstreamErrors counts retryable attempt failures broken down by provider
	// and error type ("timeout", "connect", "status", "body").
	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_upstream_errors_total",
			Help: "Total upstream attempt errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// FallbackHops counts cross-model fallback transitions labelled by the
	// model hopped from and to.
	FallbackHops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_fallback_hops_total",
			Help: "Total cross-model fallback transitions.",
		},
		[]string{"from", "to"},
	)

	// ConfigReloads counts hot-reload outcomes ("success", "error").
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_config_reloads_total",
			Help: "Total config hot-reload attempts by outcome.",
		},
		[]string{"status"},
	)

	// ProviderUp tracks the background health checker's view of each provider:
	// 1 = reachable, 0 = unreachable.
	ProviderUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_provider_up",
			Help: "Provider reachability as seen by the health checker.",
		},
		[]string{"provider"},
	)
)
