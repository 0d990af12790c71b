package metrics_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statechart/pkg/async"
	"github.com/dmitrymomot/statechart/pkg/metrics"
	"github.com/dmitrymomot/statechart/pkg/statechart"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	_, err = metrics.NewCollector(reg)
	assert.ErrorIs(t, err, metrics.ErrRegister)
	assert.Panics(t, func() { metrics.MustNewCollector(reg) })
}

func TestCollectorObservesService(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	col := metrics.MustNewCollector(reg)

	m := statechart.MustNewMachine(statechart.Config[int]{
		ID:      "job",
		Initial: "idle",
		States: map[string]statechart.StateNode[int]{
			"idle": {On: map[string][]statechart.Transition[int]{
				"RUN": {{Target: "running"}},
				"BAD": {{Target: "running", Guard: func(int, statechart.Event) bool { return false }}},
			}},
			"running": {Invoke: &statechart.Invoke[int]{
				Source: func(int, statechart.Event, statechart.InvokeAPI[int]) statechart.Invocation {
					return statechart.Promise(async.Rejected[any](errors.New("boom")))
				},
				OnError: &statechart.Transition[int]{Target: "idle"},
			}},
		},
	})

	svc, err := statechart.Interpret(m, statechart.WithObserver[int](col)).Start()
	require.NoError(t, err)
	defer svc.Stop()

	require.NoError(t, svc.Send(statechart.NewEvent("BAD", nil)))
	require.NoError(t, svc.Send(statechart.NewEvent("NOPE", nil)))
	require.NoError(t, svc.Send(statechart.NewEvent("RUN", nil)))
	expected := `
# HELP statechart_events_dropped_total Total number of events that matched no transition
# TYPE statechart_events_dropped_total counter
statechart_events_dropped_total{event="BAD",machine="job",reason="guarded",state="idle"} 1
statechart_events_dropped_total{event="undeclared",machine="job",reason="unhandled",state="idle"} 1
# HELP statechart_invocations_total Total number of invocation lifecycle steps by outcome
# TYPE statechart_invocations_total counter
statechart_invocations_total{machine="job",outcome="failed",state="running"} 1
statechart_invocations_total{machine="job",outcome="started",state="running"} 1
# HELP statechart_transitions_total Total number of transitions taken
# TYPE statechart_transitions_total counter
statechart_transitions_total{event="RUN",from="idle",machine="job",to="running"} 1
statechart_transitions_total{event="RUN",from="running",machine="job",to="idle"} 1
`
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(expected)) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "idle", svc.GetState().State)
}

func TestDroppedEventLabelIsBounded(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	col := metrics.MustNewCollector(reg)

	m := statechart.MustNewMachine(statechart.Config[int]{
		ID:      "job",
		Initial: "idle",
		States: map[string]statechart.StateNode[int]{
			"idle":    {On: map[string][]statechart.Transition[int]{"RUN": {{Target: "running"}}}},
			"running": {On: map[string][]statechart.Transition[int]{"STOP": {{Target: "idle"}}}},
		},
	})

	svc, err := statechart.Interpret(m, statechart.WithObserver[int](col)).Start()
	require.NoError(t, err)
	defer svc.Stop()

	for i := range 200 {
		require.NoError(t, svc.Send(statechart.NewEvent(fmt.Sprintf("JUNK-%d", i), nil)))
	}
	// STOP is declared by another state, so it keeps its own label.
	require.NoError(t, svc.Send(statechart.NewEvent("STOP", nil)))

	n, err := testutil.GatherAndCount(reg, "statechart_events_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	expected := `
# HELP statechart_events_dropped_total Total number of events that matched no transition
# TYPE statechart_events_dropped_total counter
statechart_events_dropped_total{event="STOP",machine="job",reason="unhandled",state="idle"} 1
statechart_events_dropped_total{event="undeclared",machine="job",reason="unhandled",state="idle"} 200
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "statechart_events_dropped_total"))
}
