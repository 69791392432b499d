// Package metrics exposes Prometheus collectors for the swipe server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swiparr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Swipes and matches
	Swipes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiparr_swipes_total",
			Help: "Total number of recorded swipes",
		},
		[]string{"direction", "scope"}, // scope: "solo", "session"
	)

	Matches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swiparr_matches_total",
			Help: "Total number of items that became session matches",
		},
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swiparr_sessions_created_total",
			Help: "Total number of sessions created",
		},
	)

	SessionsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiparr_sessions_deleted_total",
			Help: "Total number of sessions deleted",
		},
		[]string{"reason"}, // "last_member_left", "orphan_cleanup"
	)

	// Security
	AdminClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiparr_admin_claims_total",
			Help: "Admin claim attempts by result",
		},
		[]string{"result"}, // "claimed", "already_claimed", "already_admin", "auto_claimed"
	)

	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiparr_rate_limit_rejections_total",
			Help: "Requests rejected by a rate limiter",
		},
		[]string{"limiter"},
	)

	SSRFRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "swiparr_ssrf_rejections_total",
			Help: "Server URLs rejected by the SSRF guard",
		},
	)

	// Providers
	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swiparr_provider_requests_total",
			Help: "Outbound media provider requests by outcome",
		},
		[]string{"provider", "outcome"}, // "success", "failure", "rejected"
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swiparr_provider_request_duration_seconds",
			Help:    "Duration of outbound media provider requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "swiparr_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Live updates
	SSESubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "swiparr_sse_subscribers",
			Help: "Current number of connected live-update subscribers",
		},
	)
)
