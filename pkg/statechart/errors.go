package statechart

import (
	"errors"
	"fmt"
)

var (
	ErrNoStates      = errors.New("statechart: machine has no states")
	ErrMissingSource = errors.New("statechart: invoke has no source")
	ErrStopped       = errors.New("statechart: service is stopped")
	ErrNotRunning    = errors.New("statechart: service is not running")
	ErrCloneContext  = errors.New("statechart: failed to clone initial context")
	ErrMergeContext  = errors.New("statechart: failed to merge context override")
)

// ErrUnknownState indicates a reference to a state the machine does not declare.
type ErrUnknownState struct {
	State string
	Where string
}

func (e *ErrUnknownState) Error() string {
	return fmt.Sprintf("statechart: unknown state %q referenced by %s", e.State, e.Where)
}

func NewErrUnknownState(state, where string) *ErrUnknownState {
	return &ErrUnknownState{State: state, Where: where}
}

func IsUnknownStateError(err error) bool {
	var e *ErrUnknownState
	return errors.As(err, &e)
}

// ErrAction wraps an error returned by a user action.
type ErrAction struct {
	State string
	Event string
	Err   error
}

func (e *ErrAction) Error() string {
	return fmt.Sprintf("statechart: action failed in state %q on event %q: %v", e.State, e.Event, e.Err)
}

func (e *ErrAction) Unwrap() error { return e.Err }

func IsActionError(err error) bool {
	var e *ErrAction
	return errors.As(err, &e)
}
