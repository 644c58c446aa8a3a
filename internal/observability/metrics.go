package observability

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec

	submissionsCreatedTotal prometheus.Counter
	dispatchTotal           *prometheus.CounterVec
	dispatchQueueDepth      prometheus.Gauge
	dispatchAttemptSeconds  prometheus.Histogram
	resultsIngestedTotal    *prometheus.CounterVec
	statusStreamClients     prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		submissionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "submissions_created_total",
			Help: "Submissions persisted in PENDING state.",
		})

		dispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_dispatch_total",
			Help: "Grading dispatch outcomes (sent, retried, exhausted, dropped, cancelled).",
		}, []string{"outcome"})

		dispatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "judge_dispatch_queue_depth",
			Help: "Jobs waiting in the dispatch queue.",
		})

		dispatchAttemptSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "judge_dispatch_attempt_seconds",
			Help:    "Duration of individual judge hand-off attempts.",
			Buckets: prometheus.DefBuckets,
		})

		resultsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "judge_results_ingested_total",
			Help: "Judge results applied to submissions, by status and outcome.",
		}, []string{"status", "outcome"})

		statusStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "submission_status_stream_clients",
			Help: "Open submission status stream connections.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			submissionsCreatedTotal,
			dispatchTotal,
			dispatchQueueDepth,
			dispatchAttemptSeconds,
			resultsIngestedTotal,
			statusStreamClients,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// SubmissionsCreated exposes the creation counter.
func SubmissionsCreated() prometheus.Counter {
	RegisterMetrics()
	return submissionsCreatedTotal
}

// Dispatches exposes the dispatch outcome counter.
func Dispatches() *prometheus.CounterVec {
	RegisterMetrics()
	return dispatchTotal
}

// DispatchQueueDepth exposes the queue depth gauge.
func DispatchQueueDepth() prometheus.Gauge {
	RegisterMetrics()
	return dispatchQueueDepth
}

// DispatchAttemptDuration exposes the per-attempt latency histogram.
func DispatchAttemptDuration() prometheus.Histogram {
	RegisterMetrics()
	return dispatchAttemptSeconds
}

// ResultsIngested exposes the result ingestion counter.
func ResultsIngested() *prometheus.CounterVec {
	RegisterMetrics()
	return resultsIngestedTotal
}

// StatusStreamClients exposes the open stream gauge.
func StatusStreamClients() prometheus.Gauge {
	RegisterMetrics()
	return statusStreamClients
}

// MetricsHandler serves the Prometheus scrape endpoint through Fiber.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()
	return adaptor.HTTPHandler(promhttp.Handler())
}
