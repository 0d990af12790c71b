// Package form provides a form-editing machine: fields change, a submit is
// validated and then sent, and failed submits can be retried.
//
// States are idle, dirty, invalid, submitting, success and failure. CHANGE
// carries a Field; SUBMIT moves to submitting only when the validator reports
// no errors and to invalid otherwise.
package form

import (
	"context"
	"encoding/json"
	"errors"
	"maps"

	"github.com/dmitrymomot/statechart/pkg/statechart"
)

// Event types accepted by the machine.
const (
	Change = "CHANGE"
	Submit = "SUBMIT"
	Retry  = "RETRY"
)

// States of the machine.
const (
	Idle       = "idle"
	Dirty      = "dirty"
	Invalid    = "invalid"
	Submitting = "submitting"
	Success    = "success"
	Failure    = "failure"
)

// ErrInvalidField is returned from Send when a CHANGE payload is not a field.
var ErrInvalidField = errors.New("invalid field change")

// Values holds field values by name.
type Values map[string]any

// Errors holds validation messages by field name. Empty messages mean valid.
type Errors map[string]string

// Valid reports whether no field has a message.
func (e Errors) Valid() bool {
	for _, msg := range e {
		if msg != "" {
			return false
		}
	}
	return true
}

// Field is the payload of a CHANGE event.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Context is the machine context. Maps are replaced, never mutated, on every
// write.
type Context struct {
	Values      Values          `json:"values"`
	Errors      Errors          `json:"errors"`
	Touched     map[string]bool `json:"touched"`
	Result      any             `json:"result,omitempty"`
	SubmitError string          `json:"submit_error,omitempty"`
}

// Validator reports per-field errors for values.
type Validator func(values Values) Errors

// SubmitFunc sends validated values. Its context is cancelled when the
// service leaves the submitting state.
type SubmitFunc func(ctx context.Context, values Values) (any, error)

// Config describes a form machine.
type Config struct {
	ID            string // defaults to "form"
	InitialValues Values
	Validate      Validator
	Submit        SubmitFunc
}

// NewMachine builds the form machine.
func NewMachine(cfg Config) *statechart.Machine[Context] {
	if cfg.ID == "" {
		cfg.ID = "form"
	}
	validate := cfg.Validate
	if validate == nil {
		validate = func(Values) Errors { return nil }
	}

	setField := statechart.Action[Context](func(c Context, evt statechart.Event, api statechart.ActionAPI[Context]) error {
		f, err := decodeField(evt.Payload)
		if err != nil {
			return err
		}
		c.Values = with(c.Values, f.Name, f.Value)
		c.Touched = with(c.Touched, f.Name, true)
		c.Errors = maps.Clone(c.Errors)
		delete(c.Errors, f.Name)
		api.SetContext(c)
		return nil
	})
	runValidation := statechart.Assign(func(c Context, _ statechart.Event) Context {
		c.Errors = maps.Clone(validate(c.Values))
		if c.Errors == nil {
			c.Errors = Errors{}
		}
		return c
	})
	isValid := func(c Context, _ statechart.Event) bool {
		return validate(c.Values).Valid()
	}

	submit := []statechart.Transition[Context]{
		{Target: Submitting, Guard: isValid, Actions: []statechart.Action[Context]{runValidation}},
		{Target: Invalid, Actions: []statechart.Action[Context]{runValidation}},
	}
	changeToDirty := []statechart.Transition[Context]{{Target: Dirty, Actions: []statechart.Action[Context]{setField}}}
	changeInPlace := []statechart.Transition[Context]{{Actions: []statechart.Action[Context]{setField}}}

	initial := maps.Clone(cfg.InitialValues)
	if initial == nil {
		initial = Values{}
	}

	return statechart.MustNewMachine(statechart.Config[Context]{
		ID:      cfg.ID,
		Initial: Idle,
		Context: Context{
			Values:  initial,
			Errors:  Errors{},
			Touched: map[string]bool{},
		},
		States: map[string]statechart.StateNode[Context]{
			Idle: {On: map[string][]statechart.Transition[Context]{
				Change: changeToDirty,
				Submit: submit,
			}},
			Dirty: {On: map[string][]statechart.Transition[Context]{
				Change: changeInPlace,
				Submit: submit,
			}},
			Invalid: {
				Tags: []string{"error"},
				On: map[string][]statechart.Transition[Context]{
					Change: changeToDirty,
					Submit: {
						submit[0],
						{Actions: []statechart.Action[Context]{runValidation}},
					},
				},
			},
			Submitting: {
				Tags: []string{"loading"},
				Entry: []statechart.Action[Context]{
					statechart.Assign(func(c Context, _ statechart.Event) Context {
						c.Result = nil
						c.SubmitError = ""
						return c
					}),
				},
				Invoke: &statechart.Invoke[Context]{
					Source: statechart.Task(func(ctx context.Context, c Context, _ statechart.Event) (any, error) {
						if cfg.Submit == nil {
							return nil, nil
						}
						return cfg.Submit(ctx, maps.Clone(c.Values))
					}),
					OnDone: &statechart.Transition[Context]{
						Target: Success,
						Actions: []statechart.Action[Context]{
							statechart.Assign(func(c Context, e statechart.Event) Context {
								c.Result = e.Data
								return c
							}),
						},
					},
					OnError: &statechart.Transition[Context]{
						Target: Failure,
						Actions: []statechart.Action[Context]{
							statechart.Assign(func(c Context, e statechart.Event) Context {
								c.SubmitError = e.Error.Error()
								return c
							}),
						},
					},
				},
				On: map[string][]statechart.Transition[Context]{
					Change: changeInPlace,
				},
			},
			Success: {
				Tags: []string{"success"},
				On: map[string][]statechart.Transition[Context]{
					Change: changeToDirty,
				},
			},
			Failure: {
				Tags: []string{"error"},
				On: map[string][]statechart.Transition[Context]{
					Retry:  {{Target: Submitting}},
					Change: changeToDirty,
				},
			},
		},
	})
}

// New interprets a form machine. The service still has to be started.
func New(cfg Config, opts ...statechart.Option[Context]) *statechart.Service[Context] {
	return statechart.Interpret(NewMachine(cfg), opts...)
}

// with returns a copy of m with k set to v.
func with[M ~map[K]V, K comparable, V any](m M, k K, v V) M {
	out := make(M, len(m)+1)
	maps.Copy(out, m)
	out[k] = v
	return out
}

func decodeField(payload any) (Field, error) {
	var f Field
	switch p := payload.(type) {
	case Field:
		f = p
	case *Field:
		if p != nil {
			f = *p
		}
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return f, errors.Join(ErrInvalidField, err)
		}
		if err := json.Unmarshal(raw, &f); err != nil {
			return f, errors.Join(ErrInvalidField, err)
		}
	}
	if f.Name == "" {
		return f, errors.Join(ErrInvalidField, errors.New("field name is required"))
	}
	return f, nil
}
