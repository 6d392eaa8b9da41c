// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clubhub",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhub",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clubhub",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhub",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Total number of jobs that reached a terminal state.",
		},
		[]string{"type", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clubhub",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job executions.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"type"},
	)

	jobsQueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubhub",
			Subsystem: "jobs",
			Name:      "enqueued_total",
			Help:      "Total number of jobs enqueued.",
		},
		[]string{"type"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpInFlight,
		httpRequests,
		httpDuration,
		jobsFinished,
		jobDuration,
		jobsQueued,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RequestStarted() {
	httpInFlight.Inc()
}

func RequestFinished(method, path string, status int, elapsed time.Duration) {
	httpInFlight.Dec()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func JobEnqueued(jobType string) {
	jobsQueued.WithLabelValues(jobType).Inc()
}

func JobFinished(jobType, status string, elapsed time.Duration) {
	jobsFinished.WithLabelValues(jobType, status).Inc()
	jobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}
