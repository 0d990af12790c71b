package statechart

// Reserved event types.
const (
	// InitEvent is the event passed to the initial state's entry actions and invocation.
	InitEvent = "@@init"
	// DoneInvokeEvent names an invocation completion when the entering event had no type.
	DoneInvokeEvent = "done.invoke"
	// ErrorInvokeEvent names an invocation failure when the entering event had no type.
	ErrorInvokeEvent = "error.invoke"
)

// Event is something that happened and may cause a transition.
// Type selects the transition candidates; Payload carries caller data.
// Data and Error are only populated on invocation completion events.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Data    any    `json:"-"`
	Error   error  `json:"-"`
}

// NewEvent is a shorthand for Event{Type: typ, Payload: payload}.
func NewEvent(typ string, payload any) Event {
	return Event{Type: typ, Payload: payload}
}

// completionEvent derives the supplemental event handed to onDone/onError
// actions from the event that entered the invoking state.
func completionEvent(entered Event, data any, err error) Event {
	evt := Event{Type: entered.Type, Payload: entered.Payload, Data: data, Error: err}
	if evt.Type == "" {
		if err != nil {
			evt.Type = ErrorInvokeEvent
		} else {
			evt.Type = DoneInvokeEvent
		}
	}
	return evt
}
