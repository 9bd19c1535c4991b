package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task metrics
var (
	TasksStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convertd_tasks_started_total",
			Help: "Total number of conversion tasks accepted",
		},
	)

	TasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertd_tasks_finished_total",
			Help: "Total number of conversion tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convertd_tasks_running",
			Help: "Number of conversion tasks currently running",
		},
	)
)

// Attempt metrics
var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertd_attempts_total",
			Help: "Total number of encoder attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"}, // "success", "failed", "invalid", "cancelled"
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convertd_attempt_duration_seconds",
			Help:    "Wall time of one encoder attempt in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"strategy"},
	)

	ValidationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convertd_validation_failures_total",
			Help: "Total number of outputs rejected by the decode probe",
		},
	)
)

// Notification metrics
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertd_webhook_deliveries_total",
			Help: "Total number of webhook deliveries by result",
		},
		[]string{"result"}, // "sent", "failed", "dropped"
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convertd_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convertd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
