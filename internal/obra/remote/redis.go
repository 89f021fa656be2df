package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes document writes on Redis pub/sub so watchers on
// other processes wake immediately instead of waiting for the next poll.
type RedisNotifier struct {
	client *redis.Client
	prefix string
}

// NewRedisNotifier connects using a redis:// URL.
func NewRedisNotifier(ctx context.Context, url string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisNotifier{client: client, prefix: "obra:doc:"}, nil
}

func (n *RedisNotifier) channel(path string) string {
	return n.prefix + path
}

// Notify implements Notifier.Notify.
func (n *RedisNotifier) Notify(ctx context.Context, path string) error {
	if err := n.client.Publish(ctx, n.channel(path), time.Now().UnixNano()).Err(); err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", path, err)
	}
	return nil
}

// Listen implements Notifier.Listen.
func (n *RedisNotifier) Listen(ctx context.Context, path string) (<-chan struct{}, func(), error) {
	pubsub := n.client.Subscribe(ctx, n.channel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", path, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, cancel, nil
}

// Close closes the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
