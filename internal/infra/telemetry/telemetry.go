package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
)

const namespace = "sessiongate"

// SessionMetricsOptions configures the session metrics collectors.
type SessionMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// SessionMetrics implements port.SessionMetrics with Prometheus counters.
type SessionMetrics struct {
	Admissions        *prometheus.CounterVec
	LifecycleEvents   *prometheus.CounterVec
	AnalyticsFailures *prometheus.CounterVec
}

// NewSessionMetrics registers admission and lifecycle counters. Collectors that are
// already registered are reused so the constructor can run more than once per process.
func NewSessionMetrics(opts SessionMetricsOptions) (*SessionMetrics, error) {
	ns := opts.Namespace
	if ns == "" {
		ns = namespace
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	admissions, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Session start attempts partitioned by outcome.",
	}, "outcome")
	if err != nil {
		return nil, err
	}

	lifecycle, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "session",
		Name:      "lifecycle_events_total",
		Help:      "Recorded session lifecycle events partitioned by event type.",
	}, "event_type")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.CounterOpts{
		Namespace: ns,
		Subsystem: "analytics",
		Name:      "failures_total",
		Help:      "Analytics events that could not be appended or published.",
	}, "event_type")
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{
		Admissions:        admissions,
		LifecycleEvents:   lifecycle,
		AnalyticsFailures: failures,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels ...string) (*prometheus.CounterVec, error) {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, fmt.Errorf("register %s collector: %w", opts.Name, err)
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, fmt.Errorf("existing %s collector has unexpected type %T", opts.Name, already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}

// ObserveAdmission counts a start attempt outcome.
func (m *SessionMetrics) ObserveAdmission(outcome string) {
	if m == nil {
		return
	}
	m.Admissions.WithLabelValues(outcome).Inc()
}

func (m *SessionMetrics) IncLifecycleEvent(eventType domain.AnalyticsEventType) {
	if m == nil {
		return
	}
	m.LifecycleEvents.WithLabelValues(string(eventType)).Inc()
}

func (m *SessionMetrics) IncAnalyticsFailure(eventType domain.AnalyticsEventType) {
	if m == nil {
		return
	}
	m.AnalyticsFailures.WithLabelValues(string(eventType)).Inc()
}

var _ port.SessionMetrics = (*SessionMetrics)(nil)
