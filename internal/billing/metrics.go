package billing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricEventsTotal             = "billing_events_total"
	MetricEventDuration           = "billing_event_duration_seconds"
	MetricReconciliationGapsTotal = "billing_reconciliation_gaps_total"
	MetricHandlerErrorsTotal      = "billing_handler_errors_total"
	MetricRetryRunsTotal          = "billing_retry_runs_total"
)

// Outcome labels for dispatched events.
const (
	OutcomeLabelProcessed  = "processed"
	OutcomeLabelDuplicate  = "duplicate"
	OutcomeLabelConcurrent = "concurrent"
	OutcomeLabelIgnored    = "ignored"
	OutcomeLabelError      = "error"
)

// Metrics contains Prometheus metrics for the reconciliation engine.
// All operations are thread-safe.
type Metrics struct {
	eventsTotal        *prometheus.CounterVec
	eventDuration      *prometheus.HistogramVec
	reconciliationGaps *prometheus.CounterVec
	handlerErrors      *prometheus.CounterVec
	retryRuns          *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsTotal,
				Help: "Total number of dispatched billing events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		eventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricEventDuration,
				Help:    "Histogram of event dispatch duration in seconds by event type",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"event_type"},
		),
		reconciliationGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReconciliationGapsTotal,
				Help: "Total number of events referencing a subscription with no enrollment record",
			},
			[]string{"event_type"},
		),
		handlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHandlerErrorsTotal,
				Help: "Total number of handler failures by event type",
			},
			[]string{"event_type"},
		),
		retryRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRetryRunsTotal,
				Help: "Total number of reconciliation retry attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsTotal,
		m.eventDuration,
		m.reconciliationGaps,
		m.handlerErrors,
		m.retryRuns,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveEvent records one dispatched event with its outcome and duration.
func (m *Metrics) ObserveEvent(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType, outcome).Inc()
	m.eventDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// RecordGap records a reconciliation gap for an event type.
func (m *Metrics) RecordGap(eventType string) {
	if m == nil {
		return
	}
	m.reconciliationGaps.WithLabelValues(eventType).Inc()
}

// RecordHandlerError records a handler failure for an event type.
func (m *Metrics) RecordHandlerError(eventType string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(eventType).Inc()
}

// RecordRetry records one reconciliation retry attempt result.
func (m *Metrics) RecordRetry(result string) {
	if m == nil {
		return
	}
	m.retryRuns.WithLabelValues(result).Inc()
}
