package statechart

// InvocationOutcome describes how an invocation ended, or that it started.
type InvocationOutcome string

const (
	InvocationStarted   InvocationOutcome = "started"
	InvocationDone      InvocationOutcome = "done"
	InvocationFailed    InvocationOutcome = "failed"
	InvocationStale     InvocationOutcome = "stale"
	InvocationCancelled InvocationOutcome = "cancelled"
)

// DropReason explains why an event caused no transition.
type DropReason string

const (
	DropUnhandled DropReason = "unhandled"
	DropGuarded   DropReason = "guarded"
)

// TransitionInfo describes a transition that has been applied.
type TransitionInfo struct {
	Machine  string
	From     string
	To       string
	Event    string
	Internal bool
}

// DropInfo describes an event that matched no transition. Declared is false
// when no state of the machine handles the event type; Event is then caller
// supplied and unbounded.
type DropInfo struct {
	Machine  string
	State    string
	Event    string
	Reason   DropReason
	Declared bool
}

// InvocationInfo describes an invocation lifecycle step.
type InvocationInfo struct {
	Machine string
	State   string
	Token   string
	Outcome InvocationOutcome
}

// Observer receives engine lifecycle notifications. Methods run synchronously
// on the processing path and must not block or call back into the service.
type Observer interface {
	TransitionTaken(TransitionInfo)
	EventDropped(DropInfo)
	InvocationSettled(InvocationInfo)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) TransitionTaken(TransitionInfo)   {}
func (NopObserver) EventDropped(DropInfo)            {}
func (NopObserver) InvocationSettled(InvocationInfo) {}

// observers fans out to several observers.
type observers []Observer

func (o observers) TransitionTaken(info TransitionInfo) {
	for _, ob := range o {
		ob.TransitionTaken(info)
	}
}

func (o observers) EventDropped(info DropInfo) {
	for _, ob := range o {
		ob.EventDropped(info)
	}
}

func (o observers) InvocationSettled(info InvocationInfo) {
	for _, ob := range o {
		ob.InvocationSettled(info)
	}
}
