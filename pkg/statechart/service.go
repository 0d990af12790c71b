package statechart

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/statechart/pkg/async"
	"github.com/dmitrymomot/statechart/pkg/logger"
)

type status int

const (
	statusInert status = iota
	statusRunning
	statusStopped
)

// queued is either a user event or an invocation completion. Outcomes of
// items without an owner are logged.
type queued[C any] struct {
	event      Event
	completion *completion
	owner      *ticket[C]
}

// ticket collects the outcome of a caller's event and of every event its
// actions queued. done is closed once all of them have been processed.
type ticket[C any] struct {
	outstanding int
	err         error
	panicked    bool
	panicValue  any
	snapshot    Snapshot[C]
	done        chan struct{}
}

func newTicket[C any]() *ticket[C] {
	return &ticket[C]{done: make(chan struct{})}
}

// result returns the recorded error, re-raising a recorded panic.
func (t *ticket[C]) result() error {
	if t.panicked {
		panic(t.panicValue)
	}
	return t.err
}

type subscription[C any] struct {
	fn Listener[C]
}

// ActionAPI lets an action write the transition-scoped context and queue events.
type ActionAPI[C any] interface {
	// SetContext replaces the pending context.
	SetContext(next C)
	// UpdateContext replaces the pending context with fn(pending).
	UpdateContext(fn func(pending C) C)
	// Send queues evt; it is processed after the current event completes.
	Send(evt Event)
}

type actionAPI[C any] struct {
	service *Service[C]
	next    C
	dirty   bool
}

func (a *actionAPI[C]) SetContext(next C) {
	a.next = next
	a.dirty = true
}

func (a *actionAPI[C]) UpdateContext(fn func(C) C) {
	a.next = fn(a.next)
	a.dirty = true
}

func (a *actionAPI[C]) Send(evt Event) {
	a.service.enqueueChained(evt)
}

// Service is a running instance of a Machine.
//
// All engine state lives here and is owned by the service. Events are
// processed one at a time in submission order: whichever goroutine finds the
// service idle drains the queue, and any other Send, including ones made from
// actions or invocation callbacks, only appends to it.
type Service[C any] struct {
	machine  *Machine[C]
	id       string
	log      *slog.Logger
	observer Observer
	cloner   func(C) (C, error)

	mu         sync.Mutex
	status     status
	state      string
	context    C
	version    uint64 // bumped on every committed context write
	queue      []queued[C]
	processing bool
	current    *ticket[C] // owner of the item being processed
	active     *activeInvocation
	listeners  []*subscription[C]
	snapshot   Snapshot[C]
	done       chan struct{}
}

// Interpret creates an inert service for m. Call Start to run it.
func Interpret[C any](m *Machine[C], opts ...Option[C]) *Service[C] {
	o := &options[C]{
		id:     m.id,
		logger: logger.Discard(),
		cloner: deepClone[C],
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	s := &Service[C]{
		machine:  m,
		id:       o.id,
		log:      o.logger.With(logger.Component("statechart"), logger.Machine(o.id)),
		observer: NopObserver{},
		cloner:   o.cloner,
		state:    m.initial,
		context:  m.context,
		done:     make(chan struct{}),
	}
	if len(o.observers) > 0 {
		s.observer = o.observers
	}
	if ctx, err := s.cloner(m.context); err == nil {
		s.context = ctx
	}
	s.snapshot = s.snapshotLocked(false)
	return s
}

// ID returns the service identifier.
func (s *Service[C]) ID() string { return s.id }

// Machine returns the definition the service runs.
func (s *Service[C]) Machine() *Machine[C] { return s.machine }

// Start enters the initial state with a fresh copy of the machine context,
// overlaid with the non-zero fields of each override. It publishes the initial
// snapshot and then processes any events queued by entry actions.
//
// Start is a no-op on a running service and returns ErrStopped on a stopped one.
func (s *Service[C]) Start(overrides ...C) (*Service[C], error) {
	s.mu.Lock()
	switch s.status {
	case statusRunning:
		s.mu.Unlock()
		return s, nil
	case statusStopped:
		s.mu.Unlock()
		return s, ErrStopped
	}

	ctx, err := s.cloner(s.machine.context)
	if err != nil {
		s.mu.Unlock()
		return s, err
	}
	for _, o := range overrides {
		if ctx, err = mergeOverride(ctx, o); err != nil {
			s.mu.Unlock()
			return s, err
		}
	}

	t := newTicket[C]()
	t.outstanding = 1
	s.status = statusRunning
	s.processing = true
	s.current = t
	s.state = s.machine.initial
	s.context = ctx
	s.version++
	s.mu.Unlock()

	s.log.Debug("service started", logger.State(s.machine.initial))

	s.drain(&queued[C]{owner: t}, func() error {
		if err := s.enter(Event{Type: InitEvent}); err != nil {
			return err
		}
		s.publish()
		return nil
	})
	return s, t.result()
}

// Stop cancels the active invocation, drops listeners and queued events, and
// permanently disables the service. It is a no-op unless the service is running.
func (s *Service[C]) Stop() {
	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		return
	}
	s.status = statusStopped
	s.queue = nil
	s.listeners = nil
	close(s.done)
	s.mu.Unlock()

	s.cancelActive("")
	s.log.Debug("service stopped")
}

// Send queues evt and, unless another call is already processing the queue,
// processes queued events until none are left. Events sent to a service that
// is not running are discarded.
//
// When Send processes the queue it returns the first error or panic raised by
// evt or by the events its actions queued; errors of other callers' events
// are never returned. When another goroutine is processing, Send returns nil
// once evt is queued and failures are logged. Use Dispatch to wait for the
// outcome in that case.
func (s *Service[C]) Send(evt Event) error {
	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		s.log.Debug("event discarded, service not running", logger.EventType(evt.Type))
		return nil
	}
	if s.processing {
		s.queue = append(s.queue, queued[C]{event: evt})
		s.mu.Unlock()
		return nil
	}
	t := newTicket[C]()
	t.outstanding = 1
	s.queue = append(s.queue, queued[C]{event: evt, owner: t})
	s.processing = true
	s.mu.Unlock()

	s.drain(nil, nil)
	return t.result()
}

// Dispatch queues evt and waits until it, and every event its actions queued,
// has been processed. It returns the snapshot published at that point and the
// first error raised by those events; a panic raised by them is re-raised in
// the caller.
//
// Dispatch must not be called from actions, guards, invocation sources or
// listeners of the same service. It returns ErrNotRunning unless the service
// is running, ErrStopped when the service stops first, and ctx.Err() when ctx
// ends first; in the last case evt stays queued.
func (s *Service[C]) Dispatch(ctx context.Context, evt Event) (Snapshot[C], error) {
	t := newTicket[C]()
	t.outstanding = 1

	s.mu.Lock()
	if s.status != statusRunning {
		snap := s.snapshot
		s.mu.Unlock()
		return snap, ErrNotRunning
	}
	s.queue = append(s.queue, queued[C]{event: evt, owner: t})
	drain := !s.processing
	s.processing = true
	s.mu.Unlock()

	if drain {
		s.drain(nil, nil)
	}

	select {
	case <-t.done:
		return t.snapshot, t.result()
	default:
	}
	select {
	case <-t.done:
		return t.snapshot, t.result()
	case <-s.done:
		select {
		case <-t.done:
			return t.snapshot, t.result()
		default:
			return s.GetState(), ErrStopped
		}
	case <-ctx.Done():
		return s.GetState(), ctx.Err()
	}
}

// Subscribe registers fn for every published snapshot. The returned function
// removes the registration and may be called more than once.
func (s *Service[C]) Subscribe(fn Listener[C]) func() {
	if fn == nil {
		return func() {}
	}
	sub := &subscription[C]{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.listeners = slices.DeleteFunc(slices.Clone(s.listeners), func(x *subscription[C]) bool {
				return x == sub
			})
			s.mu.Unlock()
		})
	}
}

// GetState returns the most recently published snapshot.
func (s *Service[C]) GetState() Snapshot[C] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// enqueueChained queues evt on behalf of the item being processed, so its
// outcome is reported to the same caller.
func (s *Service[C]) enqueueChained(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != statusRunning {
		return
	}
	owner := s.current
	if owner != nil {
		owner.outstanding++
	}
	s.queue = append(s.queue, queued[C]{event: evt, owner: owner})
}

// enqueueCompletion queues an invocation result and processes the queue when
// nobody else is.
func (s *Service[C]) enqueueCompletion(c completion) {
	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, queued[C]{completion: &c})
	drain := !s.processing
	s.processing = true
	s.mu.Unlock()

	if drain {
		s.drain(nil, nil)
	}
}

// drain runs first on behalf of head, if given, then processes queued items
// until the queue is empty. The caller must have set s.processing; drain
// clears it on return. Errors and panics are recorded on the owning ticket,
// so one failing event never stops the others.
func (s *Service[C]) drain(head *queued[C], first func() error) {
	if first != nil {
		value, panicked, err := s.guarded(first)
		s.finish(*head, value, panicked, err)
	}

	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.status != statusRunning {
			s.processing = false
			s.current = nil
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue[0] = queued[C]{}
		s.queue = s.queue[1:]
		s.current = item.owner
		s.mu.Unlock()

		value, panicked, err := s.guarded(func() error { return s.process(item) })
		s.finish(item, value, panicked, err)
	}
}

// guarded runs step and turns a panic into a value.
func (s *Service[C]) guarded(step func() error) (value any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, panicked = r, true
		}
	}()
	return nil, false, step()
}

// finish records the outcome of item on its owner, or logs it.
func (s *Service[C]) finish(item queued[C], value any, panicked bool, err error) {
	if item.owner == nil {
		switch {
		case panicked:
			s.log.Error("event processing panicked", logger.EventType(item.event.Type), slog.Any("panic", value))
		case err != nil:
			s.log.Error("event processing failed", logger.EventType(item.event.Type), logger.Error(err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := item.owner
	switch {
	case panicked && !t.panicked:
		t.panicked, t.panicValue = true, value
	case err != nil && t.err == nil:
		t.err = err
	}
	t.outstanding--
	if t.outstanding == 0 {
		t.snapshot = s.snapshot
		close(t.done)
	}
}

func (s *Service[C]) process(item queued[C]) error {
	if item.completion != nil {
		return s.settle(*item.completion)
	}

	evt := item.event
	from, version := s.position()

	candidates := s.machine.node(from).On[evt.Type]
	if len(candidates) == 0 {
		s.drop(from, evt, DropUnhandled)
		return nil
	}

	t, ok := s.resolve(candidates, evt)
	if !ok {
		s.drop(from, evt, DropGuarded)
		return nil
	}

	if err := s.apply(t, evt, nil); err != nil {
		return err
	}
	s.publishIfChanged(from, version)
	return nil
}

// resolve picks the first candidate whose guard passes.
func (s *Service[C]) resolve(candidates []Transition[C], evt Event) (Transition[C], bool) {
	current := s.currentContext()
	for _, t := range candidates {
		if t.allows(current, evt) {
			return t, true
		}
	}
	return Transition[C]{}, false
}

// apply runs a chosen transition: exit actions and invocation cancel, then the
// transition actions, then the state change, entry actions and a new invocation.
// Transition actions see supplemental when it is given, every other step sees trigger.
func (s *Service[C]) apply(t Transition[C], trigger Event, supplemental *Event) error {
	from, _ := s.position()
	external := t.Target != "" && t.Target != from

	if external {
		if err := s.runActions(s.machine.node(from).Exit, trigger, from); err != nil {
			return err
		}
		s.cancelActive("")
	}

	actionEvent := trigger
	if supplemental != nil {
		actionEvent = *supplemental
	}
	if err := s.runActions(t.Actions, actionEvent, from); err != nil {
		return err
	}

	to := from
	if external {
		to = t.Target
		s.mu.Lock()
		s.state = to
		s.mu.Unlock()

		if err := s.enter(trigger); err != nil {
			return err
		}
	}

	s.log.Debug("transition taken",
		logger.Transition(from, to),
		logger.EventType(actionEvent.Type),
		slog.Bool("internal", !external),
	)
	s.observer.TransitionTaken(TransitionInfo{
		Machine:  s.id,
		From:     from,
		To:       to,
		Event:    actionEvent.Type,
		Internal: !external,
	})
	return nil
}

// enter runs the current state's entry actions and starts its invocation.
func (s *Service[C]) enter(trigger Event) error {
	state, _ := s.position()
	if err := s.runActions(s.machine.node(state).Entry, trigger, state); err != nil {
		return err
	}
	s.startInvocation(trigger)
	return nil
}

// runActions threads a pending context through actions and commits it once
// all of them succeed. Nothing is committed when no action wrote the context.
func (s *Service[C]) runActions(actions []Action[C], evt Event, state string) error {
	if len(actions) == 0 {
		return nil
	}

	api := &actionAPI[C]{service: s, next: s.currentContext()}
	for _, action := range actions {
		if action == nil {
			continue
		}
		if err := action(api.next, evt, api); err != nil {
			return &ErrAction{State: state, Event: evt.Type, Err: err}
		}
	}

	if api.dirty {
		s.mu.Lock()
		s.context = api.next
		s.version++
		s.mu.Unlock()
	}
	return nil
}

func (s *Service[C]) startInvocation(entered Event) {
	state, _ := s.position()
	inv := s.machine.node(state).Invoke
	if inv == nil || inv.Manual {
		return
	}

	token := newToken()
	s.mu.Lock()
	if s.status != statusRunning {
		s.mu.Unlock()
		return
	}
	s.active = &activeInvocation{token: token, state: state}
	current := s.context
	s.mu.Unlock()

	res := inv.Source(current, entered, &invokeAPI[C]{service: s, token: token})

	s.mu.Lock()
	registered := s.active != nil && s.active.token == token
	if registered {
		s.active.cancel = res.Cancel
	}
	s.mu.Unlock()

	s.log.Debug("invocation started", logger.State(state), logger.Token(token))
	s.observer.InvocationSettled(InvocationInfo{Machine: s.id, State: state, Token: token, Outcome: InvocationStarted})

	if !registered {
		// Cancelled before the source returned.
		s.safeCancel(res.Cancel, token)
		return
	}
	if res.Result == nil {
		s.log.Warn("invocation returned no result", logger.State(state), logger.Token(token))
		s.retire(token)
		return
	}

	go s.await(token, entered, res.Result)
}

// await delivers an invocation result through the event queue.
func (s *Service[C]) await(token string, entered Event, f *async.Future[any]) {
	select {
	case <-f.Done():
	case <-s.done:
		return
	}

	data, err := f.Await()
	s.enqueueCompletion(completion{token: token, entered: entered, data: data, err: err})
}

// settle handles a completed invocation. Results from an invocation that is no
// longer the active one are ignored.
func (s *Service[C]) settle(c completion) error {
	s.mu.Lock()
	stale := s.active == nil || s.active.token != c.token
	s.mu.Unlock()

	from, version := s.position()
	if stale {
		s.log.Debug("stale invocation result ignored", logger.State(from), logger.Token(c.token))
		s.observer.InvocationSettled(InvocationInfo{Machine: s.id, State: from, Token: c.token, Outcome: InvocationStale})
		return nil
	}

	var handler *Transition[C]
	outcome := InvocationDone
	if inv := s.machine.node(from).Invoke; inv != nil {
		handler = inv.OnDone
		if c.err != nil {
			handler = inv.OnError
		}
	}
	if c.err != nil {
		outcome = InvocationFailed
	}
	s.observer.InvocationSettled(InvocationInfo{Machine: s.id, State: from, Token: c.token, Outcome: outcome})

	// The invocation has finished; retire it before its handler runs.
	s.retire(c.token)

	evt := completionEvent(c.entered, c.data, c.err)
	trigger := Event{Type: evt.Type, Payload: evt.Payload}

	switch {
	case handler == nil && c.err != nil:
		s.log.Debug("invocation failed without onError handler", logger.State(from), logger.Error(c.err))
	case handler != nil && handler.allows(s.currentContext(), evt):
		if err := s.apply(*handler, trigger, &evt); err != nil {
			return err
		}
	}

	s.publishIfChanged(from, version)
	return nil
}

// retire clears token if it is still active and calls its cancel callback.
func (s *Service[C]) retire(token string) {
	s.mu.Lock()
	var cancel func()
	if s.active != nil && s.active.token == token {
		cancel = s.active.cancel
		s.active = nil
	}
	s.mu.Unlock()

	s.safeCancel(cancel, token)
}

// cancelActive cancels the active invocation. A non-empty token restricts the
// cancel to that invocation.
func (s *Service[C]) cancelActive(token string) {
	s.mu.Lock()
	a := s.active
	if a == nil || (token != "" && a.token != token) {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.mu.Unlock()

	s.log.Debug("invocation cancelled", logger.State(a.state), logger.Token(a.token))
	s.observer.InvocationSettled(InvocationInfo{Machine: s.id, State: a.state, Token: a.token, Outcome: InvocationCancelled})
	s.safeCancel(a.cancel, a.token)
}

// safeCancel runs a cancel callback, swallowing panics so cancellation never
// blocks a transition.
func (s *Service[C]) safeCancel(cancel func(), token string) {
	if cancel == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("invocation cancel callback panicked", logger.Token(token), slog.Any("panic", r))
		}
	}()
	cancel()
}

func (s *Service[C]) drop(state string, evt Event, reason DropReason) {
	s.log.Debug("event dropped", logger.State(state), logger.EventType(evt.Type), slog.String("reason", string(reason)))
	s.observer.EventDropped(DropInfo{
		Machine:  s.id,
		State:    state,
		Event:    evt.Type,
		Reason:   reason,
		Declared: s.machine.Declares(evt.Type),
	})
}

func (s *Service[C]) publishIfChanged(from string, version uint64) {
	state, v := s.position()
	if state != from || v != version {
		s.publish()
	}
}

// publish records a changed snapshot and hands it to the listeners registered
// at this moment.
func (s *Service[C]) publish() {
	s.mu.Lock()
	snap := s.snapshotLocked(true)
	s.snapshot = snap
	listeners := s.listeners
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(snap)
	}
}

func (s *Service[C]) snapshotLocked(changed bool) Snapshot[C] {
	return Snapshot[C]{
		State:   s.state,
		Context: s.context,
		Changed: changed,
		Tags:    s.machine.Tags(s.state),
	}
}

func (s *Service[C]) position() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.version
}

func (s *Service[C]) currentContext() C {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}
