package broadcast

import (
	"context"

	"github.com/dmitrymomot/statechart/pkg/statechart"
)

// Source is anything that publishes snapshots to listeners, such as a
// *statechart.Service.
type Source[C any] interface {
	Subscribe(fn statechart.Listener[C]) func()
}

// Forward rebroadcasts every snapshot src publishes. The returned function
// detaches it.
func Forward[C any](src Source[C], b Broadcaster[statechart.Snapshot[C]]) func() {
	return src.Subscribe(func(snap statechart.Snapshot[C]) {
		_ = b.Broadcast(context.Background(), Message[statechart.Snapshot[C]]{Data: snap})
	})
}
