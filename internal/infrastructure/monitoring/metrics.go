package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	QueueWait         prometheus.Histogram
	QueueDepth        prometheus.Gauge
	ExecutionsRunning prometheus.Gauge
	AdmissionRejects  *prometheus.CounterVec

	// Worker pool metrics
	WorkersAvailable prometheus.Gauge
	WorkersRetired   prometheus.Counter

	// Video metrics
	VideosStored prometheus.Gauge
	VideoBytes   prometheus.Gauge
	VideosSwept  prometheus.Counter

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec

	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetrics creates a metrics collector with its own registry so
// multiple instances can coexist in tests.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry:  registry,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_executions_total",
				Help: "Executions by terminal state",
			},
			[]string{"state"},
		),
		ExecutionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_execution_duration_seconds",
				Help:    "Wall-clock duration of script executions",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		QueueWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrator_queue_wait_seconds",
				Help:    "Time requests spend queued before running",
				Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300},
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_queue_depth",
				Help: "Number of requests waiting in the queue",
			},
		),
		ExecutionsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_executions_running",
				Help: "Number of executions currently holding a worker",
			},
		),
		AdmissionRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_admission_rejects_total",
				Help: "Synchronous admission rejections by reason",
			},
			[]string{"reason"},
		),

		WorkersAvailable: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_workers_available",
				Help: "Idle worker handles in the pool",
			},
		),
		WorkersRetired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_workers_retired_total",
				Help: "Workers retired after crash or failed reset",
			},
		),

		VideosStored: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_videos_stored",
				Help: "Video artifacts currently retained",
			},
		),
		VideoBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_video_bytes",
				Help: "Total bytes of retained video artifacts",
			},
		),
		VideosSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_videos_swept_total",
				Help: "Video artifacts removed by the retention sweep",
			},
		),

		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_webhook_deliveries_total",
				Help: "Webhook delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler returns an HTTP handler exposing this collector's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Uptime returns time since the collector was created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
