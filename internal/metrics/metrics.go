package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "meetai"
	subsystem = "meeting_server"
)

var (
	// HTTPRequestsTotal counts requests by route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// WebhookEventsTotal counts webhook deliveries by type and outcome
	// (ok, ignored, rejected, not_found, invalid, unauthorized, error).
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "webhook_events_total",
			Help:      "Total webhook events received",
		},
		[]string{"event_type", "outcome"},
	)

	// TransitionsTotal counts guarded status writes by target status and result.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_transitions_total",
			Help:      "Total guarded meeting status transitions",
		},
		[]string{"to", "result"},
	)

	// AgentAttachTotal counts attachment attempts by result
	// (connected, already_connected, failed).
	AgentAttachTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "agent_attach_total",
			Help:      "Total agent attachment attempts",
		},
		[]string{"trigger", "result"},
	)

	// CaptureStartsTotal counts recording/transcription start attempts.
	CaptureStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capture_starts_total",
			Help:      "Total recording and transcription start attempts",
		},
		[]string{"feature", "result"},
	)

	SummaryJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_jobs_total",
			Help:      "Total summary jobs by stage and status",
		},
		[]string{"stage", "status"},
	)

	SummaryJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_job_duration_seconds",
			Help:      "Summary job duration in seconds",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	SummaryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "summary_queue_depth",
			Help:      "Pending summary jobs in the queue",
		},
	)

	SSEClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sse_clients",
			Help:      "Connected status event stream clients",
		},
	)
)
