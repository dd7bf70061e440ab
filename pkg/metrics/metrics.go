// Package metrics holds the Prometheus collectors for the audit log and the
// impersonation manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal"

// AuditMetrics holds Prometheus metrics for the security audit log.
type AuditMetrics struct {
	// EntriesTotal counts appended audit entries by action and severity.
	EntriesTotal *prometheus.CounterVec
	// WriteErrors counts swallowed audit write failures by action.
	WriteErrors *prometheus.CounterVec
	// Clears counts bulk clear operations.
	Clears prometheus.Counter
}

// ImpersonationMetrics holds Prometheus metrics for impersonation sessions.
type ImpersonationMetrics struct {
	// Transitions counts lifecycle transitions by resulting status.
	Transitions *prometheus.CounterVec
	// Active is the number of active sessions seen by the last sweep.
	Active prometheus.Gauge
	// SweepDuration tracks expiry sweep latency.
	SweepDuration prometheus.Histogram
	// SweepExpired counts sessions moved to expired by sweeps.
	SweepExpired prometheus.Counter
}

// Metrics bundles every collector the portal exposes.
type Metrics struct {
	Audit         *AuditMetrics
	Impersonation *ImpersonationMetrics
}

// New creates the portal metrics and registers them with reg. Each
// registry accepts one set, so tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	audit := &AuditMetrics{
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_entries_total",
			Help:      "Total number of audit entries appended",
		}, []string{"action", "severity"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_errors_total",
			Help:      "Total number of audit writes that failed and were swallowed",
		}, []string{"action"}),
		Clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_clears_total",
			Help:      "Total number of audit log clear operations",
		}),
	}

	imp := &ImpersonationMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impersonation_transitions_total",
			Help:      "Impersonation session lifecycle transitions by resulting status",
		}, []string{"status"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "impersonation_active_sessions",
			Help:      "Active impersonation sessions observed by the last sweep",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "impersonation_sweep_duration_seconds",
			Help:      "Duration of expired-session sweeps",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impersonation_sweep_expired_total",
			Help:      "Sessions transitioned to expired by sweeps",
		}),
	}

	reg.MustRegister(
		audit.EntriesTotal, audit.WriteErrors, audit.Clears,
		imp.Transitions, imp.Active, imp.SweepDuration, imp.SweepExpired,
	)

	return &Metrics{Audit: audit, Impersonation: imp}
}

// ObserveEntry records one appended audit entry. Safe on a nil receiver.
func (m *AuditMetrics) ObserveEntry(action, severity string) {
	if m == nil {
		return
	}
	m.EntriesTotal.WithLabelValues(action, severity).Inc()
}

// ObserveWriteError records one swallowed audit write failure. Safe on a nil receiver.
func (m *AuditMetrics) ObserveWriteError(action string) {
	if m == nil {
		return
	}
	m.WriteErrors.WithLabelValues(action).Inc()
}

// ObserveClear records a bulk clear. Safe on a nil receiver.
func (m *AuditMetrics) ObserveClear() {
	if m == nil {
		return
	}
	m.Clears.Inc()
}

// ObserveTransition records a lifecycle transition. Safe on a nil receiver.
func (m *ImpersonationMetrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(status).Inc()
}

// ObserveSweep records one sweep. Safe on a nil receiver.
func (m *ImpersonationMetrics) ObserveSweep(seconds float64, expired int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(seconds)
	m.SweepExpired.Add(float64(expired))
}

// SetActive sets the active session gauge. Safe on a nil receiver.
func (m *ImpersonationMetrics) SetActive(active int) {
	if m == nil {
		return
	}
	m.Active.Set(float64(active))
}
