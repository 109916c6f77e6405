package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses url and pings the server once.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher sends updates through redis so every API instance's Relay can reach its own sockets.
type RedisPublisher struct {
	client redisPublisher
}

func NewRedisPublisher(client redisPublisher) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Relay forwards redis pub/sub messages matching pattern into the local hub.
type Relay struct {
	client  *redis.Client
	hub     *Hub
	pattern string
	logger  *slog.Logger
}

func NewRelay(client *redis.Client, hub *Hub, prefix string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		client:  client,
		hub:     hub,
		pattern: prefix + ".*",
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled or the subscription channel closes.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %s: %w", r.pattern, err)
	}
	r.logger.Info("realtime relay subscribed", "pattern", r.pattern)

	return r.consume(ctx, sub.Channel())
}

func (r *Relay) consume(ctx context.Context, messages <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			delivered := r.hub.Deliver(msg.Channel, []byte(msg.Payload))
			r.logger.Debug("relayed status update", "channel", msg.Channel, "clients", delivered)
		}
	}
}
