package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBridge mirrors all bus events onto a Redis pub/sub channel so
// external consumers (dashboards, other processes) can follow a run
// without linking curator.
type RedisBridge struct {
	pub     Publisher
	client  *redis.Client
	channel string
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(pub Publisher, addr, channel string, logger *slog.Logger) (*RedisBridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisBridge{
		pub:     pub,
		client:  client,
		channel: channel,
		logger:  logger,
	}, nil
}

// Start subscribes to the bus and forwards events until ctx is cancelled
// or Close is called.
func (b *RedisBridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	ch := b.pub.Subscribe(GlobalTaskID)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.pub.Unsubscribe(GlobalTaskID, ch)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				b.forward(ctx, ev)
			}
		}
	}()
}

func (b *RedisBridge) forward(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("redis bridge: drop unencodable event", "type", ev.Type, "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.Warn("redis bridge: publish failed", "type", ev.Type, "error", err)
	}
}

// Close stops forwarding and closes the Redis connection.
func (b *RedisBridge) Close() {
	b.once.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		_ = b.client.Close()
	})
}
