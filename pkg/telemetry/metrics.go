package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the sentinel core.
type Metrics struct {
	config MetricsConfig

	// Lifecycle metrics
	cyclesCompleted prometheus.Counter
	cycleDuration   prometheus.Histogram
	actionsExpired  prometheus.Counter
	actionsExecuted *prometheus.CounterVec
	transitions     *prometheus.CounterVec

	// Container gauges
	pendingActions  prometheus.Gauge
	approvedActions prometheus.Gauge

	// Resilience metrics
	retryAttempts  *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec
	dispatchCalls  *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	dispatchTime   *prometheus.HistogramVec

	// Queue metrics
	queuedTasks     prometheus.Gauge
	deadLetterTasks prometheus.Gauge

	// Error metrics
	errorsByCategory *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		cyclesCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_completed_total",
				Help:      "Total number of scan cycles completed",
			},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of scan cycles in seconds",
				Buckets:   buckets,
			},
		),
		actionsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_expired_total",
				Help:      "Total number of actions moved to Expired",
			},
		),
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"action_type", "status"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of container transitions",
			},
			[]string{"from", "to"},
		),

		pendingActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_actions",
				Help:      "Current number of actions awaiting approval",
			},
		),
		approvedActions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "approved_actions",
				Help:      "Current number of approved actions awaiting execution",
			},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"circuit"},
		),
		dispatchCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_calls_total",
				Help:      "Total number of handler dispatches",
			},
			[]string{"handler"},
		),
		dispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_errors_total",
				Help:      "Total number of handler dispatch errors",
			},
			[]string{"handler"},
		),
		dispatchTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of handler dispatches in seconds",
				Buckets:   buckets,
			},
			[]string{"handler"},
		),

		queuedTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_tasks",
				Help:      "Current number of tasks in the durable queue",
			},
		),
		deadLetterTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dead_letter_tasks",
				Help:      "Current number of dead-lettered tasks",
			},
		),

		errorsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_category_total",
				Help:      "Total number of errors by classification category",
			},
			[]string{"category"},
		),
	}

	registry.MustRegister(
		m.cyclesCompleted,
		m.cycleDuration,
		m.actionsExpired,
		m.actionsExecuted,
		m.transitions,
		m.pendingActions,
		m.approvedActions,
		m.retryAttempts,
		m.circuitState,
		m.dispatchCalls,
		m.dispatchErrors,
		m.dispatchTime,
		m.queuedTasks,
		m.deadLetterTasks,
		m.errorsByCategory,
	)

	return m, nil
}

// Lifecycle metrics

// RecordCycle records a completed scan cycle and its duration.
func (m *Metrics) RecordCycle(duration time.Duration) {
	if m.cyclesCompleted == nil {
		return
	}
	m.cyclesCompleted.Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

// RecordActionExpired increments the expired actions counter.
func (m *Metrics) RecordActionExpired() {
	if m.actionsExpired == nil {
		return
	}
	m.actionsExpired.Inc()
}

// RecordActionExecuted records an executed action by type and status.
func (m *Metrics) RecordActionExecuted(actionType, status string) {
	if m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(actionType, status).Inc()
}

// RecordTransition records a container transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// SetPendingActions sets the current pending container count.
func (m *Metrics) SetPendingActions(count float64) {
	if m.pendingActions == nil {
		return
	}
	m.pendingActions.Set(count)
}

// SetApprovedActions sets the current approved container count.
func (m *Metrics) SetApprovedActions(count float64) {
	if m.approvedActions == nil {
		return
	}
	m.approvedActions.Set(count)
}

// Resilience metrics

// RecordRetryAttempt increments the retry counter for an operation.
func (m *Metrics) RecordRetryAttempt(operation string) {
	if m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(operation).Inc()
}

// SetCircuitState sets the breaker state gauge for a circuit.
// 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCircuitState(circuit string, state float64) {
	if m.circuitState == nil {
		return
	}
	m.circuitState.WithLabelValues(circuit).Set(state)
}

// RecordDispatch records a handler dispatch with its duration.
func (m *Metrics) RecordDispatch(handler string, duration time.Duration) {
	if m.dispatchCalls == nil {
		return
	}
	m.dispatchCalls.WithLabelValues(handler).Inc()
	m.dispatchTime.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordDispatchError records a handler dispatch error.
func (m *Metrics) RecordDispatchError(handler string) {
	if m.dispatchErrors == nil {
		return
	}
	m.dispatchErrors.WithLabelValues(handler).Inc()
}

// Queue metrics

// SetQueuedTasks sets the current durable queue depth.
func (m *Metrics) SetQueuedTasks(count float64) {
	if m.queuedTasks == nil {
		return
	}
	m.queuedTasks.Set(count)
}

// SetDeadLetterTasks sets the current dead-letter count.
func (m *Metrics) SetDeadLetterTasks(count float64) {
	if m.deadLetterTasks == nil {
		return
	}
	m.deadLetterTasks.Set(count)
}

// Error metrics

// RecordError records an error by classification category.
func (m *Metrics) RecordError(category string) {
	if m.errorsByCategory == nil {
		return
	}
	m.errorsByCategory.WithLabelValues(category).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
