package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisDialTimeout = 10 * time.Second

// RedisClients holds two connections. Queue carries BLPOP traffic, job
// locks, schedules and OAuth state; PubSub serves the events bus.
type RedisClients struct {
	Queue  *redis.Client
	PubSub *redis.Client
}

// NewRedisClients opens both clients from one URL and pings each. Nothing
// is left open on error.
func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	base, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()

	queue, err := dialRedis(ctx, base, "capora-queue")
	if err != nil {
		return nil, err
	}
	pubsub, err := dialRedis(ctx, base, "capora-events")
	if err != nil {
		_ = queue.Close()
		return nil, err
	}
	return &RedisClients{Queue: queue, PubSub: pubsub}, nil
}

// dialRedis copies base so each client gets its own pool and CLIENT SETNAME.
func dialRedis(ctx context.Context, base *redis.Options, name string) (*redis.Client, error) {
	opt := *base
	opt.ClientName = name
	client := redis.NewClient(&opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis (%s): %w", name, err)
	}
	return client, nil
}

func (r *RedisClients) Close() error {
	return errors.Join(r.Queue.Close(), r.PubSub.Close())
}
