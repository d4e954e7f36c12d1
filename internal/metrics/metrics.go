package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics
var (
	ItemsIndexedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_items_indexed_total",
			Help: "Total number of queue items indexed successfully",
		},
		[]string{"type"},
	)

	ItemsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_items_failed_total",
			Help: "Total number of queue items marked as failed",
		},
		[]string{"type"},
	)

	QueueInitializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_initializations_total",
			Help: "Total number of queue initializations",
		},
		[]string{"configuration", "status"},
	)

	ItemPassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexqueue_item_pass_duration_seconds",
			Help:    "Duration of a single item indexing pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

// Backend metrics
var (
	DocumentsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_documents_submitted_total",
			Help: "Total number of documents sent to search backends",
		},
		[]string{"backend", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexqueue_backend_request_duration_seconds",
			Help:    "Search backend request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"backend", "operation"},
	)
)

// Page render metrics
var (
	PageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexqueue_page_request_duration_seconds",
			Help:    "Internal page render request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action"},
	)

	PageRequestsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_page_requests_rejected_total",
			Help: "Total number of internal page render requests rejected by the render endpoint",
		},
		[]string{"reason"},
	)
)

// Monitor metrics
var (
	MonitorEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_monitor_events_total",
			Help: "Total number of record events processed by the monitor",
		},
		[]string{"kind", "status"},
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexqueue_events_dropped_total",
			Help: "Total number of record events dropped because the dispatcher was full",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexqueue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
