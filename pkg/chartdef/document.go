package chartdef

import (
	"bytes"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

type document struct {
	ID      string              `yaml:"id"`
	Initial string              `yaml:"initial"`
	Context yaml.Node           `yaml:"context"`
	States  map[string]stateDoc `yaml:"states"`
}

type stateDoc struct {
	On     map[string]transitionList `yaml:"on"`
	Entry  nameList                  `yaml:"entry"`
	Exit   nameList                  `yaml:"exit"`
	Tags   nameList                  `yaml:"tags"`
	Invoke *invokeDoc                `yaml:"invoke"`
}

var stateKeys = []string{"on", "entry", "exit", "tags", "invoke"}

func (s *stateDoc) UnmarshalYAML(n *yaml.Node) error {
	if err := checkKeys(n, stateKeys); err != nil {
		return err
	}
	type plain stateDoc
	return n.Decode((*plain)(s))
}

type invokeDoc struct {
	Src       string         `yaml:"src"`
	OnDone    *transitionDoc `yaml:"onDone"`
	OnError   *transitionDoc `yaml:"onError"`
	AutoStart *bool          `yaml:"autoStart"`
}

var invokeKeys = []string{"src", "onDone", "onError", "autoStart"}

func (i *invokeDoc) UnmarshalYAML(n *yaml.Node) error {
	if err := checkKeys(n, invokeKeys); err != nil {
		return err
	}
	type plain invokeDoc
	return n.Decode((*plain)(i))
}

var transitionKeys = []string{"target", "guard", "actions"}

type transitionDoc struct {
	Target  string   `yaml:"target"`
	Guard   string   `yaml:"guard"`
	Actions nameList `yaml:"actions"`
}

// UnmarshalYAML accepts a bare target name as well as a mapping.
func (t *transitionDoc) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		t.Target = n.Value
		return nil
	}
	if err := checkKeys(n, transitionKeys); err != nil {
		return err
	}
	type plain transitionDoc
	return n.Decode((*plain)(t))
}

type transitionList []transitionDoc

// UnmarshalYAML accepts one transition or a sequence of them.
func (l *transitionList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.SequenceNode {
		var t transitionDoc
		if err := n.Decode(&t); err != nil {
			return err
		}
		*l = transitionList{t}
		return nil
	}
	var ts []transitionDoc
	if err := n.Decode(&ts); err != nil {
		return err
	}
	*l = ts
	return nil
}

type nameList []string

// UnmarshalYAML accepts a single name or a sequence of names.
func (l *nameList) UnmarshalYAML(n *yaml.Node) error {
	switch {
	case n.Tag == "!!null":
		*l = nil
		return nil
	case n.Kind == yaml.ScalarNode:
		*l = nameList{n.Value}
		return nil
	case n.Kind == yaml.SequenceNode:
		var names []string
		if err := n.Decode(&names); err != nil {
			return err
		}
		*l = names
		return nil
	default:
		return fmt.Errorf("line %d: expected a name or a list of names", n.Line)
	}
}

// checkKeys rejects mapping keys outside allowed. Nested Unmarshalers decode
// through fresh decoders that do not inherit KnownFields.
func checkKeys(n *yaml.Node, allowed []string) error {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i]
		if !slices.Contains(allowed, key.Value) {
			return fmt.Errorf("line %d: field %s not found, expected one of %v", key.Line, key.Value, allowed)
		}
	}
	return nil
}

// decodeStrict decodes n into v rejecting unknown struct fields.
func decodeStrict(n *yaml.Node, v any) error {
	raw, err := yaml.Marshal(n)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(v)
}
