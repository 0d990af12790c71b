// Package httpapi exposes a running statechart service over HTTP.
//
// Routes:
//
//	GET  /state         current snapshot as JSON
//	POST /events        {"type": "...", "payload": ...}; 202 with the snapshot after processing
//	GET  /state/stream  server-sent events, one "snapshot" event per published snapshot
//
// A POST waits until its own event has been processed. When its actions fail
// it answers 422 with the error message, a malformed body answers 400 and a
// stopped service 503. Failures of events sent by other clients are never
// reported to this one.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/statechart/pkg/broadcast"
	"github.com/dmitrymomot/statechart/pkg/logger"
	"github.com/dmitrymomot/statechart/pkg/statechart"
)

const maxBodySize = 1 << 20

// API serves one service. Close it to end open streams.
type API[C any] struct {
	svc    *statechart.Service[C]
	stream *broadcast.MemoryBroadcaster[statechart.Snapshot[C]]
	detach func()
	log    *slog.Logger
}

type options struct {
	logger     *slog.Logger
	bufferSize int
}

// Option configures an API.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStreamBuffer sets how many snapshots a stream client may lag behind
// before it is disconnected. Defaults to 16.
func WithStreamBuffer(n int) Option {
	return func(o *options) { o.bufferSize = n }
}

// New creates an API for svc and starts forwarding its snapshots to stream
// clients.
func New[C any](svc *statechart.Service[C], opts ...Option) *API[C] {
	o := options{logger: logger.Discard(), bufferSize: 16}
	for _, opt := range opts {
		opt(&o)
	}

	a := &API[C]{
		svc:    svc,
		stream: broadcast.NewMemoryBroadcaster[statechart.Snapshot[C]](o.bufferSize),
		log:    o.logger.With(logger.Component("httpapi"), logger.Machine(svc.ID())),
	}
	a.detach = broadcast.Forward[C](svc, a.stream)
	return a
}

// Router is shorthand for New(svc, opts...).Routes().
func Router[C any](svc *statechart.Service[C], opts ...Option) chi.Router {
	return New(svc, opts...).Routes()
}

// Routes returns the API routes.
func (a *API[C]) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/state", a.getState)
	r.Post("/events", a.postEvent)
	r.Get("/state/stream", a.streamState)
	return r
}

// Close stops forwarding snapshots and ends every open stream.
func (a *API[C]) Close() error {
	a.detach()
	return a.stream.Close()
}

func (a *API[C]) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.GetState())
}

func (a *API[C]) postEvent(w http.ResponseWriter, r *http.Request) {
	var evt statechart.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid event body: %w", err))
		return
	}
	if evt.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("event type is required"))
		return
	}

	snap, err := a.svc.Dispatch(r.Context(), evt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, snap)
	case statechart.IsActionError(err):
		a.log.WarnContext(r.Context(), "event rejected by action", logger.EventType(evt.Type), logger.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, statechart.ErrNotRunning), errors.Is(err, statechart.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.log.DebugContext(r.Context(), "client gone before event was processed", logger.EventType(evt.Type))
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		a.log.ErrorContext(r.Context(), "event processing failed", logger.EventType(evt.Type), logger.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API[C]) streamState(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := a.stream.Subscribe(ctx)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, a.svc.GetState()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Receive(ctx):
			if !ok {
				return
			}
			if err := writeEvent(w, msg.Data); err != nil {
				a.log.DebugContext(ctx, "stream client gone", logger.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
