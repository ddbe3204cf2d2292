package statemachine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives engine events. Implementations must be safe for concurrent use.
type Metrics interface {
	TransitionCompleted(machine, from, event, to string)
	EventIgnored(machine, state, event string)
	EventRetried(machine, event, reason string)
	EventFailed(machine, event string)
	EventDuration(machine, event string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) TransitionCompleted(string, string, string, string) {}
func (noopMetrics) EventIgnored(string, string, string)                {}
func (noopMetrics) EventRetried(string, string, string)                {}
func (noopMetrics) EventFailed(string, string)                         {}
func (noopMetrics) EventDuration(string, string, time.Duration)        {}

// PrometheusMetrics exports engine events as Prometheus collectors.
type PrometheusMetrics struct {
	transitions *prometheus.CounterVec
	ignored     *prometheus.CounterVec
	retries     *prometheus.CounterVec
	tooBusy     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the collectors on reg. Collectors already
// registered by another machine in the same process are reused.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fsm_transitions_total",
			Help:      "Total number of committed transitions by machine, from_state, event and to_state",
		}, []string{"machine", "from_state", "event", "to_state"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fsm_events_ignored_total",
			Help:      "Total number of events with no transition from a non-blocking state",
		}, []string{"machine", "state", "event"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fsm_event_retries_total",
			Help:      "Total number of event retries by reason (stale, wait, retry)",
		}, []string{"machine", "event", "reason"}),
		tooBusy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fsm_events_too_busy_total",
			Help:      "Total number of events that exhausted their retry budget",
		}, []string{"machine", "event"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fsm_event_duration_seconds",
			Help:      "Duration of OnEvent including retries and backoff",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"machine", "event"}),
	}

	var err error
	m.transitions, err = register(reg, m.transitions)
	if err != nil {
		return nil, err
	}
	m.ignored, err = register(reg, m.ignored)
	if err != nil {
		return nil, err
	}
	m.retries, err = register(reg, m.retries)
	if err != nil {
		return nil, err
	}
	m.tooBusy, err = register(reg, m.tooBusy)
	if err != nil {
		return nil, err
	}
	m.duration, err = register(reg, m.duration)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *PrometheusMetrics) TransitionCompleted(machine, from, event, to string) {
	m.transitions.WithLabelValues(machine, from, event, to).Inc()
}

func (m *PrometheusMetrics) EventIgnored(machine, state, event string) {
	m.ignored.WithLabelValues(machine, state, event).Inc()
}

func (m *PrometheusMetrics) EventRetried(machine, event, reason string) {
	m.retries.WithLabelValues(machine, event, reason).Inc()
}

func (m *PrometheusMetrics) EventFailed(machine, event string) {
	m.tooBusy.WithLabelValues(machine, event).Inc()
}

func (m *PrometheusMetrics) EventDuration(machine, event string, d time.Duration) {
	m.duration.WithLabelValues(machine, event).Observe(d.Seconds())
}
