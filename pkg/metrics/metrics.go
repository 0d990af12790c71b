// Package metrics exports statechart activity as Prometheus counters.
//
// A Collector implements statechart.Observer; pass it to Interpret with
// statechart.WithObserver and every service it observes is labelled by its
// service ID:
//
//	col, err := metrics.NewCollector(prometheus.DefaultRegisterer)
//	if err != nil {
//		return err
//	}
//	svc := statechart.Interpret(m, statechart.WithObserver[Ctx](col))
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/statechart/pkg/statechart"
)

const namespace = "statechart"

// UndeclaredEvent is the event label for dropped events whose type no state
// handles. Event types come from clients and would otherwise make the label
// set unbounded.
const UndeclaredEvent = "undeclared"

// ErrRegister is returned when the collector's metrics cannot be registered.
var ErrRegister = errors.New("failed to register statechart metrics")

// Collector counts transitions, dropped events and invocation outcomes.
type Collector struct {
	transitions *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	invocations *prometheus.CounterVec
}

var _ statechart.Observer = (*Collector)(nil)

// NewCollector creates a collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of transitions taken",
			},
			[]string{"machine", "from", "to", "event"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events that matched no transition",
			},
			[]string{"machine", "state", "event", "reason"}, // reason: unhandled, guarded
		),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of invocation lifecycle steps by outcome",
			},
			[]string{"machine", "state", "outcome"}, // outcome: started, done, failed, stale, cancelled
		),
	}

	for _, col := range []prometheus.Collector{c.transitions, c.dropped, c.invocations} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Join(ErrRegister, err)
		}
	}
	return c, nil
}

// MustNewCollector is like NewCollector but panics on registration errors.
func MustNewCollector(reg prometheus.Registerer) *Collector {
	c, err := NewCollector(reg)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Collector) TransitionTaken(info statechart.TransitionInfo) {
	c.transitions.WithLabelValues(info.Machine, info.From, info.To, info.Event).Inc()
}

func (c *Collector) EventDropped(info statechart.DropInfo) {
	event := info.Event
	if !info.Declared {
		event = UndeclaredEvent
	}
	c.dropped.WithLabelValues(info.Machine, info.State, event, string(info.Reason)).Inc()
}

func (c *Collector) InvocationSettled(info statechart.InvocationInfo) {
	c.invocations.WithLabelValues(info.Machine, info.State, string(info.Outcome)).Inc()
}
