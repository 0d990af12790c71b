// Package redis connects to redis and publishes statechart snapshots over
// redis pub/sub.
//
// Connect parses a redis:// URL and pings the server with retries, failing
// with ErrRedisNotReady when it never answers. Healthcheck wraps a client into
// a probe function.
//
// SnapshotPublisher JSON-encodes snapshots and publishes them on one channel
// per service, "<prefix>:<service id>". With WithRetention the latest snapshot
// is also kept under "<channel>:latest" so that a reader that subscribes late
// can call Latest first. Listener turns a publisher into a statechart listener:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	pub := redis.NewSnapshotPublisher(client, redis.WithChannelPrefix(cfg.ChannelPrefix))
//	svc.Subscribe(redis.Listener[Ctx](pub, svc.ID()))
//
// Publish errors from a listener are logged and do not affect the service.
package redis
