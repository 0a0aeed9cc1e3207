// Package metrics provides Prometheus metrics for the ratingmeter service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Game metrics
	ratingsSubmitted   prometheus.Counter
	ratingsRejected    *prometheus.CounterVec
	pointsAwarded      prometheus.Histogram
	submitLatency      prometheus.Histogram
	leaderboardQueries prometheus.Counter
	totalPlayers       prometheus.Gauge
	totalSamples       prometheus.Gauge
	totalRatings       prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// Backups
	backupRuns       *prometheus.CounterVec
	backupDuration   prometheus.Histogram
	backupLastUnix   prometheus.Gauge
	backupLastRecord prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ratingmeter",
		subsystem:        "game",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() {
	m.ratingsSubmitted = m.counter("ratings_submitted_total", "Total number of ratings accepted and stored")
	m.ratingsRejected = m.counterVec("ratings_rejected_total", "Total number of rejected rating submissions by reason", "reason")
	m.pointsAwarded = m.histogram("points_awarded", "Distribution of points awarded per rating",
		[]float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	m.submitLatency = m.histogram("submit_latency_milliseconds", "Rating submission latency in milliseconds", m.histogramBuckets)
	m.leaderboardQueries = m.counter("leaderboard_queries_total", "Total number of leaderboard and rank reads")
	m.totalPlayers = m.gauge("players", "Number of registered players")
	m.totalSamples = m.gauge("samples", "Number of published samples")
	m.totalRatings = m.gauge("ratings", "Number of stored ratings")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		ConstLabels: m.constLabels,
		Buckets:     m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds",
		"Repository write latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds",
		"Repository read latency in milliseconds", m.histogramBuckets)

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component",
		"component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint",
		"endpoint", "method", "error_type")

	m.backupRuns = m.counterVec("backup_runs_total", "Total number of backup runs by result", "result")
	m.backupDuration = m.histogram("backup_duration_milliseconds", "Backup export duration in milliseconds", m.histogramBuckets)
	m.backupLastUnix = m.gauge("backup_last_unix", "Unix timestamp of the last successful backup")
	m.backupLastRecord = m.gauge("backup_last_records", "Number of records in the last successful backup")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordRatingSubmitted counts a stored rating and the points it earned.
func RecordRatingSubmitted(points int) {
	globalManager.ratingsSubmitted.Inc()
	globalManager.pointsAwarded.Observe(float64(points))
}

// RecordRatingRejected counts a rejected submission by reason.
func RecordRatingRejected(reason string) {
	globalManager.ratingsRejected.WithLabelValues(reason).Inc()
}

// RecordSubmitLatency records submission latency in milliseconds.
func RecordSubmitLatency(latencyMs float64) {
	globalManager.submitLatency.Observe(latencyMs)
}

// RecordLeaderboardQuery counts a leaderboard or rank read.
func RecordLeaderboardQuery() {
	globalManager.leaderboardQueries.Inc()
}

// UpdateTotals sets the population gauges.
func UpdateTotals(players, samples, ratings int) {
	globalManager.totalPlayers.Set(float64(players))
	globalManager.totalSamples.Set(float64(samples))
	globalManager.totalRatings.Set(float64(ratings))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordRepositoryUpdateLatency records repository write latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository read latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordBackup records a backup run. records and unixTime are ignored on failure.
func RecordBackup(ok bool, durationMs float64, records int, unixTime int64) {
	if !ok {
		globalManager.backupRuns.WithLabelValues("failure").Inc()
		return
	}
	globalManager.backupRuns.WithLabelValues("success").Inc()
	globalManager.backupDuration.Observe(durationMs)
	globalManager.backupLastUnix.Set(float64(unixTime))
	globalManager.backupLastRecord.Set(float64(records))
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
