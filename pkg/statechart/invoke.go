package statechart

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/statechart/pkg/async"
)

// InvokeSource starts the asynchronous operation of a state. It receives the
// context value at entry time, the event that entered the state and an API
// scoped to this invocation.
type InvokeSource[C any] func(current C, entered Event, api InvokeAPI[C]) Invocation

// Invocation is the normalized result of an InvokeSource: the eventual result
// and an optional cancel callback.
type Invocation struct {
	Result *async.Future[any]
	Cancel func()
}

// Promise wraps a bare asynchronous result that cannot be cancelled. The
// service watches the future until it settles or the service stops, even after
// the invoking state is left, so a future that may never settle holds a
// goroutine until Stop. Use Task or Cancelable for work that can block.
func Promise(f *async.Future[any]) Invocation {
	return Invocation{Result: f}
}

// Cancelable pairs an asynchronous result with the callback that aborts it.
func Cancelable(f *async.Future[any], cancel func()) Invocation {
	return Invocation{Result: f, Cancel: cancel}
}

// Task adapts a context-aware function into an InvokeSource. The function runs
// in its own goroutine and its context is cancelled when the invoking state is
// left or the service stops.
func Task[C any](fn func(ctx context.Context, current C, entered Event) (any, error)) InvokeSource[C] {
	return func(current C, entered Event, _ InvokeAPI[C]) Invocation {
		ctx, cancel := context.WithCancel(context.Background())
		f := async.Async(ctx, current, func(ctx context.Context, c C) (any, error) {
			return fn(ctx, c, entered)
		})
		return Cancelable(f, cancel)
	}
}

// InvokeAPI is handed to an InvokeSource.
type InvokeAPI[C any] interface {
	// State returns the live state of the service with Changed set to false.
	State() Snapshot[C]
	// Send queues an event on the service.
	Send(evt Event) error
	// Start is reserved; invocations are started by the engine on entry.
	Start()
	// Cancel cancels this invocation if it is still the active one.
	Cancel()
}

type invokeAPI[C any] struct {
	service *Service[C]
	token   string
}

func (a *invokeAPI[C]) State() Snapshot[C] {
	a.service.mu.Lock()
	defer a.service.mu.Unlock()
	return a.service.snapshotLocked(false)
}

func (a *invokeAPI[C]) Send(evt Event) error {
	return a.service.Send(evt)
}

func (a *invokeAPI[C]) Start() {}

func (a *invokeAPI[C]) Cancel() {
	a.service.cancelActive(a.token)
}

// activeInvocation is the single in-flight invocation of a service.
type activeInvocation struct {
	token  string
	state  string
	cancel func()
}

// completion is queued when an invocation's result settles.
type completion struct {
	token   string
	entered Event
	data    any
	err     error
}

// newToken mints an invocation token. UUIDv7 combines a millisecond timestamp
// with random bits.
func newToken() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
