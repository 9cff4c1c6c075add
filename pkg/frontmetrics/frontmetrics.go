// Package frontmetrics declares the package-global prometheus
// collectors frontdoor registers. pkg/endpoint publishes to all of them
// except RateLimiterGrantsTotal, which no package increments.
// Grounded on the teacher's pkg/metrics/metrics.go (package-global
// prometheus.New*Vec variables registered with
// prometheus.MustRegister), generalized from cluster-orchestrator
// gauges (NodesTotal, ServicesTotal, RaftLeader, ...) to front-end
// server gauges (live connections/sessions, request counts, rate
// limiter grants).
package frontmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// LiveConnections tracks open TCP connections per endpoint.
	LiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frontdoor_endpoint_live_connections",
			Help: "Currently open TCP connections, by endpoint name.",
		},
		[]string{"endpoint"},
	)

	// LiveSessions tracks open HTTP/2 sessions per endpoint.
	LiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "frontdoor_endpoint_live_sessions",
			Help: "Currently open HTTP/2 sessions, by endpoint name.",
		},
		[]string{"endpoint"},
	)

	// RequestsTotal counts handled requests by endpoint and HTTP status
	// text (http.StatusText of the status code).
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdoor_requests_total",
			Help: "Total requests handled, by endpoint and HTTP status text.",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration observes request handling latency by endpoint.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontdoor_request_duration_seconds",
			Help:    "Request handling latency, by endpoint.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// RateLimiterGrantsTotal is labelled for grants and denials by bucket
	// name and outcome. It is registered, but no package increments it.
	RateLimiterGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "frontdoor_ratelimiter_grants_total",
			Help: "TokenBucket grant outcomes, by bucket name and outcome.",
		},
		[]string{"bucket", "outcome"},
	)

	// DrainDurationSeconds observes how long each endpoint's graceful
	// drain took.
	DrainDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "frontdoor_endpoint_drain_duration_seconds",
			Help:    "Time spent draining an endpoint on stop, by endpoint.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		LiveConnections,
		LiveSessions,
		RequestsTotal,
		RequestDuration,
		RateLimiterGrantsTotal,
		DrainDurationSeconds,
	)
}
