package statechart

import (
	"log/slog"
)

// Option configures a service at Interpret time.
type Option[C any] func(*options[C])

type options[C any] struct {
	id        string
	logger    *slog.Logger
	observers observers
	cloner    func(C) (C, error)
}

// WithID sets the service identifier used in logs and metrics.
// Defaults to the machine ID, or a random UUID when the machine has none.
func WithID[C any](id string) Option[C] {
	return func(o *options[C]) {
		if id != "" {
			o.id = id
		}
	}
}

// WithLogger sets the logger. Nil loggers are ignored.
func WithLogger[C any](l *slog.Logger) Option[C] {
	return func(o *options[C]) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver[C any](ob Observer) Option[C] {
	return func(o *options[C]) {
		if ob != nil {
			o.observers = append(o.observers, ob)
		}
	}
}

// WithCloner overrides how the machine's initial context is copied at start.
// Use it for context types the reflective deep copy cannot handle.
func WithCloner[C any](fn func(C) (C, error)) Option[C] {
	return func(o *options[C]) {
		if fn != nil {
			o.cloner = fn
		}
	}
}
