package broadcast

import (
	"context"
	"sync"
)

// Message wraps a broadcast value.
type Message[T any] struct {
	Data T
}

// Subscriber receives messages from a Broadcaster.
// Implementations must be safe for concurrent use.
type Subscriber[T any] interface {
	// Receive returns the channel messages are delivered on. The channel is
	// closed when the subscriber is closed or dropped.
	Receive(ctx context.Context) <-chan Message[T]

	// Close closes the subscriber. It is idempotent.
	Close() error
}

// Broadcaster sends messages to multiple subscribers without blocking on
// slow ones.
type Broadcaster[T any] interface {
	// Subscribe registers a subscriber that lives until ctx is done or it is closed.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast delivers msg to every active subscriber.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close closes every subscriber. Later subscribers are returned closed.
	Close() error
}

type subscriber[T any] struct {
	ch     chan Message[T]
	mu     sync.RWMutex
	closed bool
}

func newSubscriber[T any](bufferSize int) *subscriber[T] {
	return &subscriber[T]{ch: make(chan Message[T], bufferSize)}
}

func (s *subscriber[T]) Receive(context.Context) <-chan Message[T] {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// send delivers msg unless the buffer is full or the subscriber is closed.
func (s *subscriber[T]) send(msg Message[T]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
