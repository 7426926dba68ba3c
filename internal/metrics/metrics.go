// Package metrics registers the Prometheus metrics used by the gateway.
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
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts errors broken down by provider and error type
	// ("transport_error", "upstream_4xx", "upstream_5xx", "provider_error").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// CostTotal sums computed request cost by provider and model.
	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cost_total",
			Help: "Total computed cost by provider and model.",
		},
		[]string{"provider", "model"},
	)

	// CreditDeducted sums credits deducted from an organization by the
	// credit/usage batcher.
	CreditDeducted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_credit_deducted_total",
			Help: "Total credits deducted per organization.",
		},
		[]string{"org"},
	)

	// KeyHealthUptime mirrors the Key Health Tracker's per-key uptime as a
	// percentage (0-100); the provider label carries the key's env var name.
	KeyHealthUptime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_key_health_uptime",
			Help: "Rolling uptime percentage (0-100) per provider API key.",
		},
		[]string{"provider", "key_index"},
	)

	// LogQueueDepth reports the current length of the Redis log queue.
	LogQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_log_queue_depth",
			Help: "Current depth of the log queue.",
		},
	)

	// StatsBucketsProcessed counts hourly buckets processed by the stats
	// aggregator, labelled by phase ("backfill", "stale", "current").
	StatsBucketsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stats_buckets_processed_total",
			Help: "Total hourly statistics buckets processed, by phase.",
		},
		[]string{"phase"},
	)
)
