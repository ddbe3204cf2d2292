package statemachine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statefulkit/pkg/statemachine"
)

func TestPrometheusMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	metrics, err := statemachine.NewPrometheusMetrics(reg, "test")
	require.NoError(t, err)

	// A second machine in the same process shares the collectors.
	again, err := statemachine.NewPrometheusMetrics(reg, "test")
	require.NoError(t, err)

	m := statemachine.NewBuilder[*order]("idle").
		State("idle").
		State("busy", statemachine.AsBlocking()).
		From("idle").When("start").To("busy").Add().
		MustBuild()
	p, err := statemachine.NewMemoryPersister(m.States(), m.Start())
	require.NoError(t, err)

	fsm := statemachine.MustNew[*order](p,
		statemachine.WithName("jobs"),
		statemachine.WithMetrics(metrics),
		statemachine.WithRetryAttempts(2),
		statemachine.WithRetryInterval(time.Millisecond),
	)

	entity := &order{}
	_, err = fsm.OnEvent(ctx, entity, "start")
	require.NoError(t, err)
	_, err = fsm.OnEvent(ctx, entity, "stop")
	require.ErrorIs(t, err, statemachine.ErrTooBusy)

	other := statemachine.MustNew[*order](p, statemachine.WithName("other"), statemachine.WithMetrics(again))
	_, err = other.OnEvent(ctx, &order{}, "unknown")
	require.NoError(t, err)

	expected := `
# HELP test_fsm_transitions_total Total number of committed transitions by machine, from_state, event and to_state
# TYPE test_fsm_transitions_total counter
test_fsm_transitions_total{event="start",from_state="idle",machine="jobs",to_state="busy"} 1
# HELP test_fsm_event_retries_total Total number of event retries by reason (stale, wait, retry)
# TYPE test_fsm_event_retries_total counter
test_fsm_event_retries_total{event="stop",machine="jobs",reason="wait"} 2
# HELP test_fsm_events_too_busy_total Total number of events that exhausted their retry budget
# TYPE test_fsm_events_too_busy_total counter
test_fsm_events_too_busy_total{event="stop",machine="jobs"} 1
# HELP test_fsm_events_ignored_total Total number of events with no transition from a non-blocking state
# TYPE test_fsm_events_ignored_total counter
test_fsm_events_ignored_total{event="unknown",machine="other",state="idle"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"test_fsm_transitions_total",
		"test_fsm_event_retries_total",
		"test_fsm_events_too_busy_total",
		"test_fsm_events_ignored_total",
	)
	assert.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "test_fsm_event_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPrometheusMetrics_RegistrationConflict(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "clash",
		Name:      "fsm_transitions_total",
		Help:      "conflicting gauge",
	}))

	_, err := statemachine.NewPrometheusMetrics(reg, "clash")
	assert.Error(t, err)
}
