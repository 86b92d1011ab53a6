package auth

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts audit events by type and reason
type MetricsSink struct {
	events *prometheus.CounterVec
}

var _ AuditSink = (*MetricsSink)(nil)

// NewMetricsSink registers auth_audit_events_total on reg. A nil registerer
// leaves the counter unregistered.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_audit_events_total",
			Help: "Total number of auth audit events by event type and reason",
		},
		[]string{"event", "reason"},
	)
	if reg != nil {
		if err := reg.Register(events); err != nil {
			return nil, internalError(err, "failed to register audit metrics")
		}
	}
	return &MetricsSink{events: events}, nil
}

// Record implements AuditSink.
func (m *MetricsSink) Record(_ context.Context, event AuditEvent) error {
	m.events.WithLabelValues(string(event.Type), event.Reason).Inc()
	return nil
}

// Counter exposes the underlying vector
func (m *MetricsSink) Counter() *prometheus.CounterVec {
	return m.events
}
