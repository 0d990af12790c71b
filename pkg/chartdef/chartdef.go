// Package chartdef loads statechart machine definitions from YAML.
//
// Behaviour cannot be expressed in YAML, so actions, guards and invocation
// sources are referenced by name and resolved through a Registry:
//
//	id: fetch
//	initial: idle
//	context:
//	  retries: 3
//	states:
//	  idle:
//	    on:
//	      FETCH: { target: loading, actions: [recordQuery] }
//	  loading:
//	    tags: [loading]
//	    invoke:
//	      src: search
//	      onDone: { target: success, actions: storeResult }
//	      onError: failure
//	    on:
//	      CANCEL: idle
//	  success: {}
//	  failure:
//	    on:
//	      RETRY:
//	        - { target: loading, guard: canRetry }
//	        - target: gaveUp
//	  gaveUp: {}
//
// A transition is a mapping, a bare target name, or a list of either; lists
// keep their order so the first passing guard wins. Action lists accept a
// single name too. The context node is decoded into C.
package chartdef

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/statechart/pkg/statechart"
)

// ErrInvalidDocument is returned when the YAML cannot be decoded.
var ErrInvalidDocument = errors.New("invalid machine definition")

// ErrUnresolved reports a name that is missing from the Registry.
type ErrUnresolved struct {
	Kind  string // action, guard or source
	Name  string
	Where string
}

func (e *ErrUnresolved) Error() string {
	return fmt.Sprintf("chartdef: unknown %s %q at %s", e.Kind, e.Name, e.Where)
}

// IsUnresolved reports whether err is, or wraps, an *ErrUnresolved.
func IsUnresolved(err error) bool {
	var target *ErrUnresolved
	return errors.As(err, &target)
}

// Registry maps names used in a definition to behaviour.
type Registry[C any] struct {
	Actions map[string]statechart.Action[C]
	Guards  map[string]statechart.Guard[C]
	Sources map[string]statechart.InvokeSource[C]
}

// Load decodes a YAML definition from r and builds a machine from it.
// Validation errors from statechart.NewMachine are returned unchanged.
func Load[C any](r io.Reader, reg Registry[C]) (*statechart.Machine[C], error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidDocument, err)
	}

	cfg, err := build(doc, reg)
	if err != nil {
		return nil, err
	}
	return statechart.NewMachine(cfg)
}

// LoadFile is Load for a file on disk.
func LoadFile[C any](path string, reg Registry[C]) (*statechart.Machine[C], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, reg)
}

func build[C any](doc document, reg Registry[C]) (statechart.Config[C], error) {
	cfg := statechart.Config[C]{
		ID:      doc.ID,
		Initial: doc.Initial,
		States:  make(map[string]statechart.StateNode[C], len(doc.States)),
	}
	if !doc.Context.IsZero() {
		if err := decodeStrict(&doc.Context, &cfg.Context); err != nil {
			return cfg, errors.Join(ErrInvalidDocument, fmt.Errorf("context: %w", err))
		}
	}

	for _, name := range slices.Sorted(maps.Keys(doc.States)) {
		node, err := buildState(name, doc.States[name], reg)
		if err != nil {
			return cfg, err
		}
		cfg.States[name] = node
	}
	return cfg, nil
}

func buildState[C any](name string, sd stateDoc, reg Registry[C]) (statechart.StateNode[C], error) {
	var (
		node statechart.StateNode[C]
		err  error
	)
	where := "states." + name

	if node.Entry, err = resolveActions(sd.Entry, reg, where+".entry"); err != nil {
		return node, err
	}
	if node.Exit, err = resolveActions(sd.Exit, reg, where+".exit"); err != nil {
		return node, err
	}
	node.Tags = sd.Tags

	if len(sd.On) > 0 {
		node.On = make(map[string][]statechart.Transition[C], len(sd.On))
		for evt, list := range sd.On {
			ts := make([]statechart.Transition[C], 0, len(list))
			for i, td := range list {
				t, err := resolveTransition(td, reg, fmt.Sprintf("%s.on.%s[%d]", where, evt, i))
				if err != nil {
					return node, err
				}
				ts = append(ts, t)
			}
			node.On[evt] = ts
		}
	}

	if sd.Invoke != nil {
		if node.Invoke, err = resolveInvoke(*sd.Invoke, reg, where+".invoke"); err != nil {
			return node, err
		}
	}
	return node, nil
}

func resolveInvoke[C any](id invokeDoc, reg Registry[C], where string) (*statechart.Invoke[C], error) {
	src, ok := reg.Sources[id.Src]
	if !ok {
		return nil, &ErrUnresolved{Kind: "source", Name: id.Src, Where: where + ".src"}
	}
	inv := &statechart.Invoke[C]{
		Source: src,
		Manual: id.AutoStart != nil && !*id.AutoStart,
	}
	if id.OnDone != nil {
		t, err := resolveTransition(*id.OnDone, reg, where+".onDone")
		if err != nil {
			return nil, err
		}
		inv.OnDone = &t
	}
	if id.OnError != nil {
		t, err := resolveTransition(*id.OnError, reg, where+".onError")
		if err != nil {
			return nil, err
		}
		inv.OnError = &t
	}
	return inv, nil
}

func resolveTransition[C any](td transitionDoc, reg Registry[C], where string) (statechart.Transition[C], error) {
	t := statechart.Transition[C]{Target: td.Target}
	if td.Guard != "" {
		g, ok := reg.Guards[td.Guard]
		if !ok {
			return t, &ErrUnresolved{Kind: "guard", Name: td.Guard, Where: where + ".guard"}
		}
		t.Guard = g
	}

	actions, err := resolveActions(td.Actions, reg, where+".actions")
	if err != nil {
		return t, err
	}
	t.Actions = actions
	return t, nil
}

func resolveActions[C any](names nameList, reg Registry[C], where string) ([]statechart.Action[C], error) {
	if len(names) == 0 {
		return nil, nil
	}
	actions := make([]statechart.Action[C], 0, len(names))
	for i, name := range names {
		a, ok := reg.Actions[name]
		if !ok {
			return nil, &ErrUnresolved{Kind: "action", Name: name, Where: fmt.Sprintf("%s[%d]", where, i)}
		}
		actions = append(actions, a)
	}
	return actions, nil
}
