package statechart_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/statechart/pkg/async"
	"github.com/dmitrymomot/statechart/pkg/statechart"
)

type fetchCtx struct {
	Query  string
	Result string
	Err    string
	Tries  int
	Pings  int
}

type pendingCall struct {
	resolve   func(any)
	reject    func(error)
	cancelled atomic.Bool
	entered   statechart.Event
	current   fetchCtx
}

// promiseSource records every invocation and lets the test settle it.
type promiseSource struct {
	mu    sync.Mutex
	calls []*pendingCall
}

func (p *promiseSource) source(current fetchCtx, entered statechart.Event, _ statechart.InvokeAPI[fetchCtx]) statechart.Invocation {
	f, resolve, reject := async.NewPromise[any]()
	call := &pendingCall{resolve: resolve, reject: reject, entered: entered, current: current}

	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()

	return statechart.Cancelable(f, func() { call.cancelled.Store(true) })
}

func (p *promiseSource) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *promiseSource) call(t *testing.T, i int) *pendingCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Greater(t, len(p.calls), i, "invocation %d was never started", i)
	return p.calls[i]
}

func fetchMachine(t *testing.T, source statechart.InvokeSource[fetchCtx]) *statechart.Machine[fetchCtx] {
	t.Helper()

	m, err := statechart.NewMachine(statechart.Config[fetchCtx]{
		ID:      "fetch",
		Initial: "idle",
		States: map[string]statechart.StateNode[fetchCtx]{
			"idle": {
				On: map[string][]statechart.Transition[fetchCtx]{
					"FETCH": {{
						Target: "loading",
						Actions: []statechart.Action[fetchCtx]{
							statechart.Assign(func(c fetchCtx, e statechart.Event) fetchCtx {
								c.Query, _ = e.Payload.(string)
								c.Tries++
								return c
							}),
						},
					}},
				},
			},
			"loading": {
				Tags: []string{"loading"},
				Invoke: &statechart.Invoke[fetchCtx]{
					Source: source,
					OnDone: &statechart.Transition[fetchCtx]{
						Target: "success",
						Actions: []statechart.Action[fetchCtx]{
							statechart.Assign(func(c fetchCtx, e statechart.Event) fetchCtx {
								c.Result, _ = e.Data.(string)
								return c
							}),
						},
					},
					OnError: &statechart.Transition[fetchCtx]{
						Target: "failure",
						Actions: []statechart.Action[fetchCtx]{
							statechart.Assign(func(c fetchCtx, e statechart.Event) fetchCtx {
								c.Err = e.Error.Error()
								return c
							}),
						},
					},
				},
				On: map[string][]statechart.Transition[fetchCtx]{
					"CANCEL": {{Target: "idle"}},
					"PING": {{Actions: []statechart.Action[fetchCtx]{
						statechart.Assign(func(c fetchCtx, _ statechart.Event) fetchCtx {
							c.Pings++
							return c
						}),
					}}},
				},
			},
			"success": {
				Tags: []string{"success"},
				On: map[string][]statechart.Transition[fetchCtx]{
					"FETCH": {{Target: "loading"}},
				},
			},
			"failure": {
				Tags: []string{"error"},
				On: map[string][]statechart.Transition[fetchCtx]{
					"RETRY": {{Target: "loading"}},
				},
			},
		},
	})
	require.NoError(t, err)
	return m
}

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu          sync.Mutex
	transitions []statechart.TransitionInfo
	drops       []statechart.DropInfo
	invocations []statechart.InvocationInfo
}

func (r *recorder) TransitionTaken(info statechart.TransitionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, info)
}

func (r *recorder) EventDropped(info statechart.DropInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, info)
}

func (r *recorder) InvocationSettled(info statechart.InvocationInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, info)
}

func (r *recorder) outcomes() []statechart.InvocationOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]statechart.InvocationOutcome, 0, len(r.invocations))
	for _, inv := range r.invocations {
		out = append(out, inv.Outcome)
	}
	return out
}

func (r *recorder) count(outcome statechart.InvocationOutcome) int {
	n := 0
	for _, o := range r.outcomes() {
		if o == outcome {
			n++
		}
	}
	return n
}

// snapshots collects published snapshots.
type snapshots[C any] struct {
	mu  sync.Mutex
	all []statechart.Snapshot[C]
}

func (s *snapshots[C]) listen(snap statechart.Snapshot[C]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, snap)
}

func (s *snapshots[C]) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.all))
	for _, snap := range s.all {
		out = append(out, snap.State)
	}
	return out
}

func (s *snapshots[C]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}
