// Package statechart interprets flat finite-state machines with guarded
// transitions, context-writing actions and one asynchronous invocation per
// state.
//
// A Machine is an immutable definition built from a Config: the initial state,
// the initial context value and a StateNode per state. Interpret turns a
// Machine into a Service, which owns a private copy of the context and
// processes events sent to it.
//
// # Usage
//
//	type Counter struct{ N int }
//
//	m := statechart.MustNewMachine(statechart.Config[Counter]{
//	    Initial: "idle",
//	    States: map[string]statechart.StateNode[Counter]{
//	        "idle": {On: map[string][]statechart.Transition[Counter]{
//	            "INC": {{Actions: []statechart.Action[Counter]{
//	                statechart.Assign(func(c Counter, _ statechart.Event) Counter {
//	                    c.N++
//	                    return c
//	                }),
//	            }}},
//	        }},
//	    },
//	})
//
//	svc, err := statechart.Interpret(m).Start()
//	_ = svc.Send(statechart.NewEvent("INC", nil))
//	fmt.Println(svc.GetState().Context.N) // 1
//
// # Processing model
//
// Send appends to a FIFO queue. The caller that finds the service idle drains
// the queue; calls made meanwhile (from actions, listeners, invocation
// callbacks or other goroutines) only enqueue. For each event the first
// candidate whose guard passes is applied in this order: exit actions of the
// current state, cancellation of its invocation, the transition's actions,
// the state change, entry actions of the new state, and the new state's
// invocation. A transition without a target, or targeting the current state,
// runs only its own actions.
//
// Actions write the context through ActionAPI. Writes accumulate in a value
// scoped to one action list and are committed after the last action
// succeeds. Context values are handed to actions by value, so contexts built
// from maps or pointers must be copied before being changed.
//
// Listeners registered with Subscribe receive a Snapshot after every
// processed event that changed the state name or committed a context write,
// and once on Start.
//
// # Invocations
//
// A state's Invoke.Source runs on entry and returns an Invocation: an
// async.Future plus an optional cancel callback. Promise, Cancelable and Task
// build the common shapes. Every invocation gets a fresh token; its result is
// queued like an event and applied through OnDone or OnError only when the
// token is still the active one. Leaving the state, stopping the service or
// calling InvokeAPI.Cancel retires the token and calls the cancel callback, so
// late results are ignored. A settled invocation is retired the same way
// before its handler runs, so its cancel callback is called once the result
// is in; callbacks must tolerate that, as context.CancelFunc does.
//
// # Error Handling
//
// Errors returned by actions are wrapped in *ErrAction; panics from guards
// and actions are recovered while the queue is processed. Both are reported
// to the caller that sent the event (Start, Send or Dispatch), together with
// those of the events its actions queued, and never to another caller.
// Processing continues with the next queued event. Failures nobody waits for,
// such as those of events sent while another goroutine was processing, are
// logged. Invocation failures are routed to OnError, or ignored when
// the state declares none. Panics in cancel callbacks are recovered and
// logged. Unhandled and guard-rejected events are not errors.
package statechart
