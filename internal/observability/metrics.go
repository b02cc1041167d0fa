package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/gin-gonic/gin"
)

const metricsNamespace = "salesq"

// Metrics holds the Prometheus collectors for the query pipeline and its collaborators
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	GuardViolations  *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec

	// Collaborator metrics
	LLMRequests    *prometheus.CounterVec
	LLMDuration    *prometheus.HistogramVec
	EngineQueries  *prometheus.CounterVec
	EngineDuration prometheus.Histogram
	DBOperations   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	HTTPResponseSize *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on a dedicated registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Pipeline runs by answer path (primary, fallback, failed)",
			},
			[]string{"path"},
		),
		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "End-to-end pipeline duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"path"},
		),
		GuardViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "guard",
				Name:      "violations_total",
				Help:      "Rejected model outputs by violation kind",
			},
			[]string{"kind"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Outcome cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		LLMRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "requests_total",
				Help:      "Language model requests by operation and status",
			},
			[]string{"operation", "status"},
		),
		LLMDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "duration_seconds",
				Help:      "Language model request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		EngineQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "queries_total",
				Help:      "Analytics engine executions by status",
			},
			[]string{"status"},
		),
		EngineDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "engine",
				Name:      "duration_seconds",
				Help:      "Analytics engine execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DBOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "db",
				Name:      "operations_total",
				Help:      "Auxiliary database operations by name and status",
			},
			[]string{"operation", "status"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(128, 4, 8),
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.PipelineRuns,
		m.PipelineDuration,
		m.GuardViolations,
		m.CacheLookups,
		m.LLMRequests,
		m.LLMDuration,
		m.EngineQueries,
		m.EngineDuration,
		m.DBOperations,
		m.HTTPRequests,
		m.HTTPDuration,
		m.HTTPResponseSize,
	)
	return m
}

// Registry exposes the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a gin handler serving the registry in the Prometheus text format
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// RecordPipeline records one pipeline run
func (m *Metrics) RecordPipeline(path string, duration time.Duration) {
	m.PipelineRuns.WithLabelValues(path).Inc()
	m.PipelineDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordGuardViolation counts a rejected model output
func (m *Metrics) RecordGuardViolation(kind string) {
	m.GuardViolations.WithLabelValues(kind).Inc()
}

// RecordCacheLookup counts a cache lookup result
func (m *Metrics) RecordCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordLLM records a language model call
func (m *Metrics) RecordLLM(operation string, duration time.Duration, err error) {
	m.LLMRequests.WithLabelValues(operation, statusLabel(err)).Inc()
	m.LLMDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEngine records an analytics engine execution
func (m *Metrics) RecordEngine(duration time.Duration, err error) {
	m.EngineQueries.WithLabelValues(statusLabel(err)).Inc()
	m.EngineDuration.Observe(duration.Seconds())
}

// RecordDB records an auxiliary database operation (history, migrations)
func (m *Metrics) RecordDB(operation string, err error) {
	m.DBOperations.WithLabelValues(operation, statusLabel(err)).Inc()
}

// RecordHTTP records a completed HTTP request
func (m *Metrics) RecordHTTP(method, path string, statusCode int, duration time.Duration, responseSize int) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide metrics instance
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}
