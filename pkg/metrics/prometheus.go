// Package metrics provides Prometheus metrics for the riskpulse service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the riskpulse service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	scoreBuckets     []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ingestion
	messagesReceived   prometheus.Counter
	decodeErrors       prometheus.Counter
	duplicatesSkipped  prometheus.Counter
	telemetryProcessed prometheus.Counter
	processingErrors   *prometheus.CounterVec
	processingLatency  prometheus.Histogram

	// Risk scoring
	assessments        *prometheus.CounterVec
	riskScore          prometheus.Histogram
	riskEventsCreated  prometheus.Counter
	riskEventsExisting prometheus.Counter

	// Pricing
	contractsCreated  prometheus.Counter
	premiumUpdates    prometheus.Counter
	premiumMultiplier prometheus.Histogram

	// Broadcast
	broadcastSubscribers prometheus.Gauge
	broadcastPublished   prometheus.Counter
	broadcastDropped     *prometheus.CounterVec

	// Stores
	storeOperations *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec

	// Broker queue
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerActiveCount       prometheus.Gauge
	workerMessagesPerSecond prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "riskpulse",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		scoreBuckets:     []float64{0, 0.1, 0.2, 0.4, 0.6, 0.8, 1, 1.5, 2, 3, 5},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	// Ingestion
	m.messagesReceived = m.counter("messages_received_total", "Total number of broker messages received")
	m.decodeErrors = m.counter("decode_errors_total", "Total number of messages dropped because they could not be decoded")
	m.duplicatesSkipped = m.counter("duplicates_skipped_total", "Total number of redelivered telemetry records skipped by the delivery guard")
	m.telemetryProcessed = m.counter("telemetry_processed_total", "Total number of telemetry records scored and persisted")
	m.processingErrors = m.counterVec("processing_errors_total", "Total number of processing failures by stage", "stage")
	m.processingLatency = m.histogram("processing_latency_milliseconds", "End-to-end processing latency of one telemetry record in milliseconds", m.histogramBuckets)

	// Risk scoring
	m.assessments = m.counterVec("risk_assessments_total", "Total number of risk assessments by level", "level")
	m.riskScore = m.histogram("risk_score", "Distribution of aggregate risk scores", m.scoreBuckets)
	m.riskEventsCreated = m.counter("risk_events_created_total", "Total number of risk events written")
	m.riskEventsExisting = m.counter("risk_events_existing_total", "Total number of HIGH assessments that found an existing risk event")

	// Pricing
	m.contractsCreated = m.counter("contracts_created_total", "Total number of insurance contracts created")
	m.premiumUpdates = m.counter("premium_updates_total", "Total number of premium recalculations persisted")
	m.premiumMultiplier = m.histogram("premium_multiplier", "Distribution of applied premium multipliers", []float64{1, 1.1, 1.21, 1.3, 1.43, 1.5, 1.69, 2, 2.5})

	// Broadcast
	m.broadcastSubscribers = m.gauge("broadcast_subscribers", "Number of live broadcast subscribers")
	m.broadcastPublished = m.counter("broadcast_published_total", "Total number of records published to the broadcast channel")
	m.broadcastDropped = m.counterVec("broadcast_dropped_total", "Total number of records dropped for slow subscribers", "policy")

	// Stores
	m.storeOperations = m.counterVec("store_operations_total", "Total number of store operations", "store", "op", "result")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds", m.histogramBuckets, "store", "op")

	// Broker queue
	m.queueCapacity = m.gauge("queue_capacity", "Maximum in-memory topic capacity")
	m.queueSize = m.gauge("queue_size", "Current number of buffered broker messages")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Total number of messages published to the in-memory topic")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Total number of rejected publishes by reason", "reason")

	// Workers
	m.workerActiveCount = m.gauge("worker_active_count", "Number of running consumer workers")
	m.workerMessagesPerSecond = m.gauge("worker_messages_per_second", "Average messages processed per second by consumer workers")

	// HTTP
	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of HTTP errors by endpoint", "endpoint", "method", "error_type")

	// System
	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ingestion.

// RecordMessageReceived increments the received messages counter.
func RecordMessageReceived() { globalManager.messagesReceived.Inc() }

// RecordDecodeError increments the decode errors counter.
func RecordDecodeError() { globalManager.decodeErrors.Inc() }

// RecordDuplicateSkipped increments the skipped duplicates counter.
func RecordDuplicateSkipped() { globalManager.duplicatesSkipped.Inc() }

// RecordTelemetryProcessed increments the processed telemetry counter.
func RecordTelemetryProcessed() { globalManager.telemetryProcessed.Inc() }

// RecordProcessingError records a failure at the given stage (decode, scoring, persistence).
func RecordProcessingError(stage string) {
	globalManager.processingErrors.WithLabelValues(stage).Inc()
}

// RecordProcessingLatency records end-to-end processing latency.
func RecordProcessingLatency(latencyMs float64) {
	globalManager.processingLatency.Observe(latencyMs)
}

// Risk scoring.

// RecordAssessment records one assessment with its level and score.
func RecordAssessment(level string, score float64) {
	globalManager.assessments.WithLabelValues(level).Inc()
	globalManager.riskScore.Observe(score)
}

// RecordRiskEventCreated increments the created risk events counter.
func RecordRiskEventCreated() { globalManager.riskEventsCreated.Inc() }

// RecordRiskEventExisting increments the counter of HIGH assessments resolved to an existing event.
func RecordRiskEventExisting() { globalManager.riskEventsExisting.Inc() }

// Pricing.

// RecordContractCreated increments the created contracts counter.
func RecordContractCreated() { globalManager.contractsCreated.Inc() }

// RecordPremiumUpdate records a persisted premium recalculation.
func RecordPremiumUpdate(multiplier float64) {
	globalManager.premiumUpdates.Inc()
	globalManager.premiumMultiplier.Observe(multiplier)
}

// Broadcast.

// UpdateBroadcastSubscribers sets the live subscriber gauge.
func UpdateBroadcastSubscribers(count int) {
	globalManager.broadcastSubscribers.Set(float64(count))
}

// RecordBroadcastPublished increments the published records counter.
func RecordBroadcastPublished() { globalManager.broadcastPublished.Inc() }

// RecordBroadcastDropped records a record dropped under the given overflow policy.
func RecordBroadcastDropped(policy string) {
	globalManager.broadcastDropped.WithLabelValues(policy).Inc()
}

// Stores.

// RecordStoreOperation records a store call with its outcome and latency.
func RecordStoreOperation(store, op, result string, latencyMs float64) {
	globalManager.storeOperations.WithLabelValues(store, op, result).Inc()
	globalManager.storeLatency.WithLabelValues(store, op).Observe(latencyMs)
}

// Broker queue.

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size and utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueEnqueueError records a rejected publish.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// Workers.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerMessagesPerSecond sets the average messages processed per second.
func UpdateWorkerMessagesPerSecond(rate float64) {
	globalManager.workerMessagesPerSecond.Set(rate)
}

// HTTP.

// RecordHTTPRequest records an HTTP request and its duration.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

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
