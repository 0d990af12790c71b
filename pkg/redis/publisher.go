package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/statechart/pkg/logger"
	"github.com/dmitrymomot/statechart/pkg/statechart"
)

const defaultPublishTimeout = 2 * time.Second

// SnapshotPublisher sends service snapshots to redis subscribers. Each service
// gets its own channel named "<prefix>:<service id>".
type SnapshotPublisher struct {
	client  redis.UniversalClient
	prefix  string
	retain  time.Duration
	timeout time.Duration
	log     *slog.Logger
}

// PublisherOption configures a SnapshotPublisher.
type PublisherOption func(*SnapshotPublisher)

// WithChannelPrefix sets the channel prefix. Defaults to "statechart".
func WithChannelPrefix(prefix string) PublisherOption {
	return func(p *SnapshotPublisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithRetention also stores the latest snapshot of each service under
// "<channel>:latest" for ttl, so late readers can catch up with Latest.
func WithRetention(ttl time.Duration) PublisherOption {
	return func(p *SnapshotPublisher) {
		p.retain = ttl
	}
}

// WithPublishTimeout bounds each publish made through Listener.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *SnapshotPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPublisherLogger sets the logger used for publish failures.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *SnapshotPublisher) {
		if l != nil {
			p.log = l
		}
	}
}

// NewSnapshotPublisher creates a publisher on client.
func NewSnapshotPublisher(client redis.UniversalClient, opts ...PublisherOption) *SnapshotPublisher {
	p := &SnapshotPublisher{
		client:  client,
		prefix:  "statechart",
		timeout: defaultPublishTimeout,
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("redis.publisher"))
	return p
}

// Channel returns the channel snapshots of serviceID are published on.
func (p *SnapshotPublisher) Channel(serviceID string) string {
	return p.prefix + ":" + serviceID
}

func (p *SnapshotPublisher) latestKey(serviceID string) string {
	return p.Channel(serviceID) + ":latest"
}

// Publish JSON-encodes snap and publishes it on the service channel.
func (p *SnapshotPublisher) Publish(ctx context.Context, serviceID string, snap any) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.Channel(serviceID), payload)
	if p.retain > 0 {
		pipe.Set(ctx, p.latestKey(serviceID), payload, p.retain)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Latest decodes the retained snapshot of serviceID into dst.
// Returns ErrNoSnapshot when nothing is retained.
func (p *SnapshotPublisher) Latest(ctx context.Context, serviceID string, dst any) error {
	data, err := p.client.Get(ctx, p.latestKey(serviceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoSnapshot
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

// Listener adapts p to a statechart listener for serviceID. Publish failures
// are logged and never reach the service.
func Listener[C any](p *SnapshotPublisher, serviceID string) statechart.Listener[C] {
	return func(snap statechart.Snapshot[C]) {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.Publish(ctx, serviceID, snap); err != nil {
			p.log.Error("snapshot publish failed",
				logger.Machine(serviceID),
				logger.State(snap.State),
				logger.Error(err),
			)
		}
	}
}
