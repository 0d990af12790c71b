// Package request provides a machine that runs one asynchronous request at a
// time: idle, loading, success and failure, with cancel and retry.
//
//	svc := request.New(func(ctx context.Context, url string) (int, error) {
//		resp, err := http.Get(url)
//		...
//	})
//	svc.Start()
//	svc.Send(statechart.NewEvent(request.Fetch, "https://example.com"))
package request

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrymomot/statechart/pkg/statechart"
)

// Event types accepted by the machine.
const (
	Fetch  = "FETCH"
	Retry  = "RETRY"
	Cancel = "CANCEL"
)

// States of the machine.
const (
	Idle    = "idle"
	Loading = "loading"
	Success = "success"
	Failure = "failure"
)

// ErrInvalidInput is returned from Send when a FETCH payload cannot be
// converted to the request input type.
var ErrInvalidInput = errors.New("invalid request input")

// Context is the machine context.
type Context[Req, Resp any] struct {
	Input      Req       `json:"input"`
	Response   Resp      `json:"response"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Elapsed returns how long the last finished request took.
func (c Context[Req, Resp]) Elapsed() time.Duration {
	if c.StartedAt.IsZero() || c.FinishedAt.Before(c.StartedAt) {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// Func performs the request. Its context is cancelled when the request is
// cancelled or the service stops.
type Func[Req, Resp any] func(ctx context.Context, input Req) (Resp, error)

type options struct {
	id  string
	now func() time.Time
}

// Option configures the machine.
type Option func(*options)

// WithID sets the machine ID. Defaults to "request".
func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithClock sets the time source for StartedAt and FinishedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewMachine builds the request machine around fn.
func NewMachine[Req, Resp any](fn Func[Req, Resp], opts ...Option) *statechart.Machine[Context[Req, Resp]] {
	o := options{id: "request", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	record := func(c Context[Req, Resp], evt statechart.Event, api statechart.ActionAPI[Context[Req, Resp]]) error {
		input, err := decodeInput[Req](evt.Payload)
		if err != nil {
			return err
		}
		var zero Resp
		c.Input = input
		c.Response = zero
		c.Error = ""
		api.SetContext(c)
		return nil
	}
	fetch := []statechart.Transition[Context[Req, Resp]]{{Target: Loading, Actions: []statechart.Action[Context[Req, Resp]]{record}}}

	return statechart.MustNewMachine(statechart.Config[Context[Req, Resp]]{
		ID:      o.id,
		Initial: Idle,
		States: map[string]statechart.StateNode[Context[Req, Resp]]{
			Idle: {
				On: map[string][]statechart.Transition[Context[Req, Resp]]{
					Fetch: fetch,
				},
			},
			Loading: {
				Tags: []string{"loading"},
				Entry: []statechart.Action[Context[Req, Resp]]{
					statechart.Assign(func(c Context[Req, Resp], _ statechart.Event) Context[Req, Resp] {
						c.StartedAt = o.now()
						return c
					}),
				},
				Invoke: &statechart.Invoke[Context[Req, Resp]]{
					Source: statechart.Task(func(ctx context.Context, c Context[Req, Resp], _ statechart.Event) (any, error) {
						return fn(ctx, c.Input)
					}),
					OnDone: &statechart.Transition[Context[Req, Resp]]{
						Target: Success,
						Actions: []statechart.Action[Context[Req, Resp]]{
							statechart.Assign(func(c Context[Req, Resp], e statechart.Event) Context[Req, Resp] {
								c.Response, _ = e.Data.(Resp)
								c.Error = ""
								c.FinishedAt = o.now()
								return c
							}),
						},
					},
					OnError: &statechart.Transition[Context[Req, Resp]]{
						Target: Failure,
						Actions: []statechart.Action[Context[Req, Resp]]{
							statechart.Assign(func(c Context[Req, Resp], e statechart.Event) Context[Req, Resp] {
								c.Error = e.Error.Error()
								c.FinishedAt = o.now()
								return c
							}),
						},
					},
				},
				On: map[string][]statechart.Transition[Context[Req, Resp]]{
					Cancel: {{Target: Idle}},
				},
			},
			Success: {
				Tags: []string{"success"},
				On: map[string][]statechart.Transition[Context[Req, Resp]]{
					Fetch: fetch,
				},
			},
			Failure: {
				Tags: []string{"error"},
				On: map[string][]statechart.Transition[Context[Req, Resp]]{
					Retry: {{Target: Loading}},
					Fetch: fetch,
				},
			},
		},
	})
}

// New interprets a request machine with default machine options. The service
// still has to be started.
func New[Req, Resp any](fn Func[Req, Resp], opts ...statechart.Option[Context[Req, Resp]]) *statechart.Service[Context[Req, Resp]] {
	return statechart.Interpret(NewMachine(fn), opts...)
}

// decodeInput converts an event payload to Req. Payloads that arrive as
// decoded JSON (maps, float64) are re-encoded into Req.
func decodeInput[Req any](payload any) (Req, error) {
	var input Req
	switch p := payload.(type) {
	case nil:
		return input, nil
	case Req:
		return p, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return input, errors.Join(ErrInvalidInput, err)
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return input, errors.Join(ErrInvalidInput, err)
	}
	return input, nil
}
