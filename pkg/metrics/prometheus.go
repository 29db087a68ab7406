// Package metrics provides Prometheus metrics for the intervention service.
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

	// Decision cycle
	decisions           *prometheus.CounterVec
	decisionLatency     prometheus.Histogram
	candidatesFetched   prometheus.Histogram
	candidateSuppressed *prometheus.CounterVec
	instancesCreated    *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	interactions        *prometheus.CounterVec

	// Trigger intake
	triggersAccepted  prometheus.Counter
	triggersDuplicate prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by package-level recorders

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // process-wide registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "shift",
		subsystem:        "interventions",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.decisions = auto.NewCounterVec(m.counterOpts("decisions_total",
		"Decision cycles by terminal outcome (created, duplicate, no_snapshot, no_candidates, suppressed, rate_limited, malformed_snapshot, failed)"),
		[]string{"outcome"})
	m.decisionLatency = auto.NewHistogram(m.histogramOpts("decision_latency_milliseconds",
		"End-to-end latency of a decision cycle in milliseconds", m.histogramBuckets))
	m.candidatesFetched = auto.NewHistogram(m.histogramOpts("candidates_per_decision",
		"Number of enabled catalog candidates fetched per decision", []float64{0, 1, 2, 3, 5, 8, 13}))
	m.candidateSuppressed = auto.NewCounterVec(m.counterOpts("candidates_suppressed_total",
		"Candidates hard-suppressed by annoyance feedback, by surface"),
		[]string{"surface"})
	m.instancesCreated = auto.NewCounterVec(m.counterOpts("instances_created_total",
		"Intervention instances created, by metric, level and surface"),
		[]string{"metric", "level", "surface"})
	m.statusTransitions = auto.NewCounterVec(m.counterOpts("instance_status_transitions_total",
		"Instance status transitions reported by delivery, by target status"),
		[]string{"status"})
	m.interactions = auto.NewCounterVec(m.counterOpts("interactions_recorded_total",
		"Interaction events appended to the log, by mapped signal (shown, engaged, annoyed, neutral, unmapped)"),
		[]string{"signal"})

	m.triggersAccepted = auto.NewCounter(m.counterOpts("triggers_accepted_total",
		"Triggers accepted for asynchronous evaluation"))
	m.triggersDuplicate = auto.NewCounter(m.counterOpts("triggers_duplicate_total",
		"Triggers dropped at intake as duplicates of an in-flight or recent trigger"))

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_operation_latency_milliseconds",
		"Store operation latency in milliseconds", m.histogramBuckets), []string{"operation"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total",
		"Store operation failures"), []string{"operation"})

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current number of queued triggers"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum number of queued triggers"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue size divided by capacity"))
	m.queueEnqueued = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Triggers enqueued"))
	m.queueDequeued = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Triggers dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Triggers rejected by the queue"))

	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Number of decision workers"))
	m.workerProcessingLatency = auto.NewHistogram(m.histogramOpts("worker_processing_latency_milliseconds",
		"Time a worker spends on one trigger in milliseconds", m.histogramBuckets))
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Decision cycles that ended in an error"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"HTTP requests by endpoint, method and status code"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total",
		"Errors by component and error type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts("system_gc_pause_time_milliseconds",
		"Average GC pause time in milliseconds", []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}))
}

// Decision cycle.

// RecordDecision counts a terminal decision outcome and its latency.
func RecordDecision(outcome string, latencyMs float64) {
	globalManager.decisions.WithLabelValues(outcome).Inc()
	globalManager.decisionLatency.Observe(latencyMs)
}

// RecordCandidatesFetched observes the size of a candidate set.
func RecordCandidatesFetched(n int) {
	globalManager.candidatesFetched.Observe(float64(n))
}

// RecordCandidateSuppressed counts a hard-suppressed candidate.
func RecordCandidateSuppressed(surface string) {
	globalManager.candidateSuppressed.WithLabelValues(surface).Inc()
}

// RecordInstanceCreated counts a newly written intervention instance.
func RecordInstanceCreated(metric, level, surface string) {
	globalManager.instancesCreated.WithLabelValues(metric, level, surface).Inc()
}

// RecordStatusTransition counts a delivery status transition.
func RecordStatusTransition(status string) {
	globalManager.statusTransitions.WithLabelValues(status).Inc()
}

// RecordInteraction counts an appended interaction event by its signal.
func RecordInteraction(signal string) {
	globalManager.interactions.WithLabelValues(signal).Inc()
}

// Trigger intake.

// RecordTriggerAccepted counts an accepted trigger.
func RecordTriggerAccepted() {
	globalManager.triggersAccepted.Inc()
}

// RecordTriggerDuplicate counts a trigger dropped at intake.
func RecordTriggerDuplicate() {
	globalManager.triggersDuplicate.Inc()
}

// Store.

// RecordStoreLatency observes one store operation.
func RecordStoreLatency(operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(operation string) {
	globalManager.storeErrors.WithLabelValues(operation).Inc()
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Workers.

// UpdateWorkerCount sets the number of workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// HTTP.

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the heap usage in bytes.
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
