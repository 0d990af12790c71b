package async

import (
	"context"
	"sync"
	"time"
)

// Future represents the eventual result of an asynchronous computation.
// A Future settles exactly once; later settle attempts are ignored.
type Future[U any] struct {
	result U
	err    error
	once   sync.Once
	done   chan struct{}
}

func newFuture[U any]() *Future[U] {
	return &Future[U]{done: make(chan struct{})}
}

// settle records the outcome and releases waiters. Only the first call wins.
func (f *Future[U]) settle(res U, err error) bool {
	settled := false
	f.once.Do(func() {
		f.result = res
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Await blocks until the future settles and returns its result and error.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitWithTimeout waits for the future to settle for at most timeout.
// If the timeout elapses first, ErrTimeout is returned and the future keeps running.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		var zero U
		return zero, ErrTimeout
	}
}

// Done returns a channel that is closed once the future settles.
func (f *Future[U]) Done() <-chan struct{} {
	return f.done
}

// IsComplete reports whether the future has settled, without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Async executes fn in its own goroutine and returns a Future for its result.
// If ctx is already canceled, fn is never called and the future settles with ctx.Err().
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	f := newFuture[U]()

	go func() {
		select {
		case <-ctx.Done():
			var zero U
			f.settle(zero, ctx.Err())
			return
		default:
		}

		res, err := fn(ctx, param)
		f.settle(res, err)
	}()

	return f
}

// NewPromise returns an unsettled Future together with the functions that settle it.
// Resolve and reject are safe to call from any goroutine; whichever runs first wins.
func NewPromise[U any]() (f *Future[U], resolve func(U), reject func(error)) {
	f = newFuture[U]()
	resolve = func(v U) { f.settle(v, nil) }
	reject = func(err error) {
		var zero U
		f.settle(zero, err)
	}
	return f, resolve, reject
}

// Resolved returns a Future already settled with v.
func Resolved[U any](v U) *Future[U] {
	f := newFuture[U]()
	f.settle(v, nil)
	return f
}

// Rejected returns a Future already settled with err.
func Rejected[U any](err error) *Future[U] {
	f := newFuture[U]()
	var zero U
	f.settle(zero, err)
	return f
}
