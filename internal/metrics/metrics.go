// Package metrics records reconciler and callback counters in Prometheus.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors registered for one process
type Metrics struct {
	reconcileTotal    *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	compensations     prometheus.Counter
	callbackFailures  prometheus.Counter
	callbackAttempts  *prometheus.CounterVec
}

// New registers the collectors with reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		reconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keypair_reconcile_total",
				Help: "Total number of lifecycle events reconciled",
			},
			[]string{"request_type", "status"},
		),
		reconcileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keypair_reconcile_duration_seconds",
				Help:    "Duration of lifecycle event reconciliation in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"request_type"},
		),
		compensations: factory.NewCounter(prometheus.CounterOpts{
			Name: "keypair_compensations_total",
			Help: "Total number of secrets deleted to undo a failed create",
		}),
		callbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "keypair_callback_failures_total",
			Help: "Total number of outcomes that could not be delivered",
		}),
		callbackAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keypair_callback_attempts_total",
				Help: "Total number of callback PUT attempts by result",
			},
			[]string{"result"},
		),
	}
}

// RecordReconcile records one finished event.
func (m *Metrics) RecordReconcile(requestType, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(requestType, status).Inc()
	m.reconcileDuration.WithLabelValues(requestType).Observe(durationSeconds)
}

// RecordCompensation counts one secret removed by rollback.
func (m *Metrics) RecordCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// RecordCallbackAttempt counts one PUT; result is "success", "retry" or "final".
func (m *Metrics) RecordCallbackAttempt(result string) {
	if m == nil {
		return
	}
	m.callbackAttempts.WithLabelValues(result).Inc()
}

// RecordCallbackFailure counts an outcome that was never delivered.
func (m *Metrics) RecordCallbackFailure() {
	if m == nil {
		return
	}
	m.callbackFailures.Inc()
}

// ReconcileTotal returns the reconcile counter for testing.
func (m *Metrics) ReconcileTotal() *prometheus.CounterVec {
	return m.reconcileTotal
}

// ReconcileDuration returns the duration histogram for testing.
func (m *Metrics) ReconcileDuration() *prometheus.HistogramVec {
	return m.reconcileDuration
}

// Compensations returns the compensation counter for testing.
func (m *Metrics) Compensations() prometheus.Counter {
	return m.compensations
}

// CallbackFailures returns the callback failure counter for testing.
func (m *Metrics) CallbackFailures() prometheus.Counter {
	return m.callbackFailures
}

// CallbackAttempts returns the callback attempt counter for testing.
func (m *Metrics) CallbackAttempts() *prometheus.CounterVec {
	return m.callbackAttempts
}
