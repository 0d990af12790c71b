package statechart

import (
	"fmt"
	"maps"
	"slices"
	"sort"
)

// Action runs during a transition. It receives the transition-scoped context
// value (which reflects writes by earlier actions in the same list), the event
// being processed and an API for writing context and queueing events.
// Returning an error aborts the transition and is returned from Send.
type Action[C any] func(current C, evt Event, api ActionAPI[C]) error

// Guard gates a transition candidate. Guards must be pure.
type Guard[C any] func(current C, evt Event) bool

// Transition is one candidate for an event. An empty Target, or a Target equal
// to the current state, makes the transition internal: entry and exit actions
// are skipped and the state's invocation keeps running.
type Transition[C any] struct {
	Target  string
	Actions []Action[C]
	Guard   Guard[C]
}

func (t Transition[C]) allows(current C, evt Event) bool {
	return t.Guard == nil || t.Guard(current, evt)
}

// Invoke describes the asynchronous operation tied to occupancy of a state.
// The invocation starts on entry unless Manual is set.
type Invoke[C any] struct {
	Source  InvokeSource[C]
	OnDone  *Transition[C]
	OnError *Transition[C]
	Manual  bool
}

// StateNode describes a single state.
type StateNode[C any] struct {
	// On maps event types to ordered transition candidates; the first
	// candidate whose guard passes wins.
	On     map[string][]Transition[C]
	Entry  []Action[C]
	Exit   []Action[C]
	Invoke *Invoke[C]
	Tags   []string
}

// Config is the declarative description of a machine.
type Config[C any] struct {
	ID      string
	Initial string
	Context C
	States  map[string]StateNode[C]
}

// Machine is a validated, immutable machine definition. One Machine may back
// any number of services.
type Machine[C any] struct {
	id      string
	initial string
	context C
	states  map[string]StateNode[C]
	events  map[string]struct{}
}

// NewMachine validates cfg and returns a Machine.
func NewMachine[C any](cfg Config[C]) (*Machine[C], error) {
	if len(cfg.States) == 0 {
		return nil, ErrNoStates
	}
	if _, ok := cfg.States[cfg.Initial]; !ok {
		return nil, NewErrUnknownState(cfg.Initial, "initial state")
	}

	// Sorted iteration keeps validation errors deterministic.
	names := slices.Collect(maps.Keys(cfg.States))
	sort.Strings(names)

	declared := map[string]struct{}{
		InitEvent:        {},
		DoneInvokeEvent:  {},
		ErrorInvokeEvent: {},
	}
	for _, name := range names {
		node := cfg.States[name]
		events := slices.Collect(maps.Keys(node.On))
		sort.Strings(events)
		for _, evt := range events {
			declared[evt] = struct{}{}
			for i, t := range node.On[evt] {
				if err := checkTarget(cfg.States, t.Target, fmt.Sprintf("%s.on[%s][%d]", name, evt, i)); err != nil {
					return nil, err
				}
			}
		}

		if node.Invoke == nil {
			continue
		}
		if node.Invoke.Source == nil {
			return nil, fmt.Errorf("%w: state %q", ErrMissingSource, name)
		}
		if t := node.Invoke.OnDone; t != nil {
			if err := checkTarget(cfg.States, t.Target, name+".invoke.onDone"); err != nil {
				return nil, err
			}
		}
		if t := node.Invoke.OnError; t != nil {
			if err := checkTarget(cfg.States, t.Target, name+".invoke.onError"); err != nil {
				return nil, err
			}
		}
	}

	return &Machine[C]{
		id:      cfg.ID,
		initial: cfg.Initial,
		context: cfg.Context,
		states:  maps.Clone(cfg.States),
		events:  declared,
	}, nil
}

// MustNewMachine is like NewMachine but panics on an invalid configuration.
func MustNewMachine[C any](cfg Config[C]) *Machine[C] {
	m, err := NewMachine(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create machine: %v", err))
	}
	return m
}

func checkTarget[C any](states map[string]StateNode[C], target, where string) error {
	if target == "" {
		return nil
	}
	if _, ok := states[target]; !ok {
		return NewErrUnknownState(target, where)
	}
	return nil
}

// ID returns the machine identifier from its Config, which may be empty.
func (m *Machine[C]) ID() string { return m.id }

// Initial returns the name of the initial state.
func (m *Machine[C]) Initial() string { return m.initial }

// States returns the sorted state names.
func (m *Machine[C]) States() []string {
	names := slices.Collect(maps.Keys(m.states))
	sort.Strings(names)
	return names
}

// Tags returns a copy of the tags declared on state.
func (m *Machine[C]) Tags(state string) []string {
	return slices.Clone(m.states[state].Tags)
}

// Declares reports whether any state handles eventType, or whether it is one
// of the reserved engine event types.
func (m *Machine[C]) Declares(eventType string) bool {
	_, ok := m.events[eventType]
	return ok
}

func (m *Machine[C]) node(state string) StateNode[C] {
	return m.states[state]
}

// Assign returns an action that replaces the context with fn(current, evt).
func Assign[C any](fn func(current C, evt Event) C) Action[C] {
	return func(_ C, evt Event, api ActionAPI[C]) error {
		api.UpdateContext(func(prev C) C { return fn(prev, evt) })
		return nil
	}
}
