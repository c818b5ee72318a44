package taskapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for task API operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_api_requests_total",
		Help: "Total task API requests by route and status",
	}, []string{"route", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tasksync_api_request_duration_seconds",
		Help:    "Task API request duration in seconds by route",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_api_errors_total",
		Help: "Total task API errors by kind",
	}, []string{"kind"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_api_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	apiRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tasksync_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error kind",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"kind"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})

	conditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_api_conditional_requests_total",
		Help: "Total requests sent with If-None-Match or If-Modified-Since",
	})

	notModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_api_not_modified_total",
		Help: "Total 304 responses answered from the last list body",
	})
)
