package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Redis publishes and subscribes through one Redis channel.
type Redis struct {
	client  *redis.Client
	channel string
}

func NewRedis(ctx context.Context, addr, password string, db int, channel string) (*Redis, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan []byte, func(), error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
