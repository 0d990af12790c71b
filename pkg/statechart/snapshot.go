package statechart

import "slices"

// Snapshot is a point-in-time view of a service.
// Changed is true when the snapshot was published because of a state change
// or a committed context write.
type Snapshot[C any] struct {
	State   string   `json:"state"`
	Context C        `json:"context"`
	Changed bool     `json:"changed"`
	Tags    []string `json:"tags"`
}

// HasTag reports whether the snapshot's state carries tag.
func (s Snapshot[C]) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Matches reports whether the snapshot is in state.
func (s Snapshot[C]) Matches(state string) bool {
	return s.State == state
}

// Listener receives published snapshots.
type Listener[C any] func(Snapshot[C])
