// Package broadcast fans values out to many subscribers.
//
// MemoryBroadcaster keeps a buffered channel per subscriber and never blocks
// the sender: a subscriber that cannot keep up is dropped and its channel is
// closed. Forward connects a statechart service to a broadcaster so that every
// published snapshot reaches all subscribers, which is how the HTTP stream
// endpoint follows a running machine.
//
//	b := broadcast.NewMemoryBroadcaster[statechart.Snapshot[Ctx]](16)
//	defer b.Close()
//	detach := broadcast.Forward[Ctx](svc, b)
//	defer detach()
//
//	sub := b.Subscribe(ctx)
//	for msg := range sub.Receive(ctx) {
//		fmt.Println(msg.Data.State)
//	}
package broadcast
