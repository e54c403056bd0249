package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Allow-list metrics
var (
	AllowListDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_allowlist_decisions_total",
			Help: "Total number of allow-list decisions",
		},
		[]string{"result"}, // allowed, denied, allow_all, not_configured, invalid_ip
	)
)

// Content policy metrics
var (
	PolicyOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_policy_outcomes_total",
			Help: "Total number of content policy outcomes by mode",
		},
		[]string{"mode", "result"}, // result: passed or a failure reason
	)

	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_backend_call_duration_seconds",
			Help:    "Duration of moderation and generation backend calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	BackendErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_backend_errors_total",
			Help: "Total number of failed backend calls",
		},
		[]string{"backend"},
	)
)

// Delivery metrics
var (
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total number of dispatch attempts by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_send_duration_seconds",
			Help:    "Duration of transport send calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_rate_limited_total",
			Help: "Total number of requests rejected by the daily send limit",
		},
	)

	ArchiveErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_archive_errors_total",
			Help: "Total number of rendered messages that could not be archived",
		},
	)

	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_provider_healthy",
			Help: "Whether a transport passed its last health checks (1) or not (0)",
		},
		[]string{"provider"},
	)
)

// Unsubscribe metrics
var (
	UnsubscribeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_unsubscribe_total",
			Help: "Total number of unsubscribe requests by outcome",
		},
		[]string{"outcome"}, // suppressed, invalid_token, error
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
