package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Session Metrics
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Live sessions by class",
		},
		[]string{"class"}, // device, admin
	)

	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_handshakes_total",
			Help: "WebSocket handshakes by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	EvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_heartbeat_evictions_total",
			Help: "Device sessions evicted after missing heartbeats",
		},
	)

	// Relay Metrics
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_commands_total",
			Help: "Envelopes routed to sessions",
		},
		[]string{"type", "result"}, // delivered, unreachable, dropped
	)

	StatusTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_device_status_transitions_total",
			Help: "Device presence transitions by target status",
		},
		[]string{"status"},
	)

	PermissionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_permission_requests_total",
			Help: "Permission request workflow outcomes",
		},
		[]string{"outcome"}, // created, approved, denied, expired, rejected
	)

	DegradedOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_degraded_operations_total",
			Help: "Operations whose persistence leg failed",
		},
		[]string{"operation"},
	)
)
