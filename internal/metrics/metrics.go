package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task lifecycle metrics, one counter per transition the state machine
	// exposes as a terminal or semi-terminal outcome.
	TasksCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_created_total",
			Help: "Total number of tasks created",
		},
		[]string{"task_type"},
	)

	TasksCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_completed_total",
			Help: "Total number of tasks that finished successfully",
		},
		[]string{"task_type"},
	)

	TasksFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_failed_total",
			Help: "Total number of tasks that exhausted their retry budget",
		},
		[]string{"task_type"},
	)

	TasksRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_retried_total",
			Help: "Total number of task attempts requeued for retry",
		},
		[]string{"task_type"},
	)

	TasksCanceledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_tasks_canceled_total",
			Help: "Total number of tasks canceled before completion",
		},
		[]string{"task_type"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_task_duration_seconds",
			Help:    "Task handler execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"task_type"},
	)

	// Queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_queue_depth",
			Help: "Current number of tasks waiting in the queue",
		},
	)

	QueueLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskqueue_queue_latency_seconds",
			Help:    "Time spent queued before a worker claimed the task",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_active_workers",
			Help: "Current number of registered live workers",
		},
	)

	WorkerBusyTime = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_worker_busy_seconds_total",
			Help: "Total time workers spent executing task handlers",
		},
		[]string{"worker_id"},
	)

	WorkerIdleTime = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_worker_idle_seconds_total",
			Help: "Total time workers spent waiting for work",
		},
		[]string{"worker_id"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// Redis metrics
	RedisOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskqueue_redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~200ms
		},
		[]string{"operation"},
	)

	RedisErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"operation"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskqueue_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskCompletion records a successful task execution.
func RecordTaskCompletion(taskType string, duration float64) {
	TasksCompletedTotal.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration)
}

// RecordTaskFailure records a task that exhausted its retry budget.
func RecordTaskFailure(taskType string, duration float64) {
	TasksFailedTotal.WithLabelValues(taskType).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration)
}

// RecordTaskRetry records a task attempt that was requeued.
func RecordTaskRetry(taskType string) {
	TasksRetriedTotal.WithLabelValues(taskType).Inc()
}

// RecordTaskCancellation records a task canceled through the API.
func RecordTaskCancellation(taskType string) {
	TasksCanceledTotal.WithLabelValues(taskType).Inc()
}

// UpdateQueueDepth updates the queue depth gauge.
func UpdateQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}

// RecordQueueLatency records the time a task spent queued before being claimed.
func RecordQueueLatency(latency float64) {
	QueueLatency.Observe(latency)
}

// SetActiveWorkers sets the active workers gauge.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// RecordWorkerBusyTime records time spent processing.
func RecordWorkerBusyTime(workerID string, duration float64) {
	WorkerBusyTime.WithLabelValues(workerID).Add(duration)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRedisOperation records a Redis operation.
func RecordRedisOperation(operation string, duration float64) {
	RedisOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRedisError records a Redis error.
func RecordRedisError(operation string) {
	RedisErrors.WithLabelValues(operation).Inc()
}

// SetWebSocketConnections sets the WebSocket connections gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records a WebSocket message.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
