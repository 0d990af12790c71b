package statechart_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statechart/pkg/statechart"
)

var errBad = errors.New("bad event")

// gateMachine blocks SLOW inside its action until release is closed. BAD
// fails in every state.
func gateMachine(entered chan<- struct{}, release <-chan struct{}) *statechart.Machine[int] {
	fail := []statechart.Action[int]{
		func(int, statechart.Event, statechart.ActionAPI[int]) error { return errBad },
	}
	return statechart.MustNewMachine(statechart.Config[int]{
		ID:      "gate",
		Initial: "idle",
		States: map[string]statechart.StateNode[int]{
			"idle": {On: map[string][]statechart.Transition[int]{
				"SLOW": {{Actions: []statechart.Action[int]{
					func(int, statechart.Event, statechart.ActionAPI[int]) error {
						entered <- struct{}{}
						<-release
						return nil
					},
				}}},
				"BAD":   {{Actions: fail}},
				"PANIC": {{Guard: func(int, statechart.Event) bool { panic("guard exploded") }}},
				"CHAIN": {{Actions: []statechart.Action[int]{
					func(_ int, _ statechart.Event, api statechart.ActionAPI[int]) error {
						api.Send(statechart.NewEvent("BAD", nil))
						api.Send(statechart.NewEvent("GO", nil))
						return nil
					},
				}}},
				"GO": {{Target: "done"}},
			}},
			"done": {On: map[string][]statechart.Transition[int]{
				"BACK": {{Target: "idle"}},
				"BAD":  {{Actions: fail}},
			}},
		},
	})
}

func startGate(t *testing.T) (*statechart.Service[int], chan struct{}, chan struct{}) {
	t.Helper()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	svc, err := statechart.Interpret(gateMachine(entered, release)).Start()
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc, entered, release
}

func TestErrorsReachTheirOwnSender(t *testing.T) {
	t.Parallel()

	svc, entered, release := startGate(t)

	slowErr := make(chan error, 1)
	go func() { slowErr <- svc.Send(statechart.NewEvent("SLOW", nil)) }()
	<-entered

	// Queued behind the running SLOW: returns at once, the failure is only logged.
	require.NoError(t, svc.Send(statechart.NewEvent("BAD", nil)))

	type outcome struct {
		snap statechart.Snapshot[int]
		err  error
	}
	bad := make(chan outcome, 1)
	goDone := make(chan outcome, 1)
	go func() {
		snap, err := svc.Dispatch(context.Background(), statechart.NewEvent("BAD", nil))
		bad <- outcome{snap, err}
	}()
	go func() {
		snap, err := svc.Dispatch(context.Background(), statechart.NewEvent("GO", nil))
		goDone <- outcome{snap, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-slowErr, "SLOW must not receive errors of other events")

	got := <-bad
	require.Error(t, got.err)
	assert.ErrorIs(t, got.err, errBad)
	var actionErr *statechart.ErrAction
	require.ErrorAs(t, got.err, &actionErr)
	assert.Equal(t, "BAD", actionErr.Event)

	got = <-goDone
	require.NoError(t, got.err)
	assert.Equal(t, "done", got.snap.State)
	assert.Equal(t, "done", svc.GetState().State)
}

func TestDispatchReturnsSnapshotAfterItsEvent(t *testing.T) {
	t.Parallel()

	svc, _, _ := startGate(t)

	snap, err := svc.Dispatch(context.Background(), statechart.NewEvent("GO", nil))
	require.NoError(t, err)
	assert.Equal(t, "done", snap.State)
	assert.True(t, snap.Changed)

	snap, err = svc.Dispatch(context.Background(), statechart.NewEvent("UNKNOWN", nil))
	require.NoError(t, err)
	assert.Equal(t, "done", snap.State)
}

func TestChainedEventErrorsGoToTheSender(t *testing.T) {
	t.Parallel()

	svc, _, _ := startGate(t)

	err := svc.Send(statechart.NewEvent("CHAIN", nil))
	assert.ErrorIs(t, err, errBad)
	// Processing went on after the failing event.
	assert.Equal(t, "done", svc.GetState().State)

	require.NoError(t, svc.Send(statechart.NewEvent("BACK", nil)))
	snap, err := svc.Dispatch(context.Background(), statechart.NewEvent("CHAIN", nil))
	assert.ErrorIs(t, err, errBad)
	assert.Equal(t, "done", snap.State)
}

func TestDispatchPanicReachesCaller(t *testing.T) {
	t.Parallel()

	svc, _, _ := startGate(t)

	assert.PanicsWithValue(t, "guard exploded", func() {
		_, _ = svc.Dispatch(context.Background(), statechart.NewEvent("PANIC", nil))
	})
	snap, err := svc.Dispatch(context.Background(), statechart.NewEvent("GO", nil))
	require.NoError(t, err)
	assert.Equal(t, "done", snap.State)
}

func TestDispatchContextEnds(t *testing.T) {
	t.Parallel()

	svc, entered, release := startGate(t)

	slowErr := make(chan error, 1)
	go func() { slowErr <- svc.Send(statechart.NewEvent("SLOW", nil)) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := svc.Dispatch(ctx, statechart.NewEvent("GO", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "idle", snap.State)

	close(release)
	require.NoError(t, <-slowErr)
	// The event stayed queued and was processed by the running drain.
	assert.Equal(t, "done", svc.GetState().State)
}

func TestDispatchLifecycle(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	svc := statechart.Interpret(gateMachine(entered, release))

	_, err := svc.Dispatch(context.Background(), statechart.NewEvent("GO", nil))
	assert.ErrorIs(t, err, statechart.ErrNotRunning)

	_, err = svc.Start()
	require.NoError(t, err)

	slowErr := make(chan error, 1)
	go func() { slowErr <- svc.Send(statechart.NewEvent("SLOW", nil)) }()
	<-entered

	stopped := make(chan error, 1)
	go func() {
		_, err := svc.Dispatch(context.Background(), statechart.NewEvent("GO", nil))
		stopped <- err
	}()
	time.Sleep(20 * time.Millisecond)
	svc.Stop()
	assert.ErrorIs(t, <-stopped, statechart.ErrStopped)

	close(release)
	require.NoError(t, <-slowErr)

	_, err = svc.Dispatch(context.Background(), statechart.NewEvent("GO", nil))
	assert.ErrorIs(t, err, statechart.ErrNotRunning)
}
