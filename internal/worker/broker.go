package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	QueueVariantProcessing = "queue:variant-processing"
	QueueContentPublishing = "queue:content-publishing"
)

// ErrQueueEmpty is returned by Pop when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// Broker moves serialized jobs between the API and the workers and holds
// the per-job lock.
type Broker interface {
	Push(ctx context.Context, queue string, payload []byte) error
	Pop(ctx context.Context, timeout time.Duration, queues ...string) (queue string, payload []byte, err error)
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

func queueFor(jobType string) string {
	return "queue:" + jobType
}

func lockKey(jobID string) string {
	return "job_lock:" + jobID
}

type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Push(ctx context.Context, queue string, payload []byte) error {
	return b.rdb.RPush(ctx, queue, payload).Err()
}

func (b *RedisBroker) Pop(ctx context.Context, timeout time.Duration, queues ...string) (string, []byte, error) {
	result, err := b.rdb.BLPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil, ErrQueueEmpty
	}
	if err != nil {
		return "", nil, err
	}
	if len(result) < 2 {
		return "", nil, ErrQueueEmpty
	}
	return result[0], []byte(result[1]), nil
}

func (b *RedisBroker) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return b.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (b *RedisBroker) Unlock(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, key).Err()
}

type envelope struct {
	queue   string
	payload []byte
}

// MemoryBroker is the single-process broker used when Redis is not configured.
type MemoryBroker struct {
	items chan envelope

	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

func NewMemoryBroker(capacity int) *MemoryBroker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryBroker{
		items: make(chan envelope, capacity),
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (b *MemoryBroker) Push(ctx context.Context, queue string, payload []byte) error {
	select {
	case b.items <- envelope{queue: queue, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop ignores the queue filter: every queue shares one channel.
func (b *MemoryBroker) Pop(ctx context.Context, timeout time.Duration, _ ...string) (string, []byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-b.items:
		return env.queue, env.payload, nil
	case <-timer.C:
		return "", nil, ErrQueueEmpty
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (b *MemoryBroker) Lock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if exp, ok := b.locks[key]; ok && now.Before(exp) {
		return false, nil
	}
	b.locks[key] = now.Add(ttl)
	return true, nil
}

func (b *MemoryBroker) Unlock(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.locks, key)
	b.mu.Unlock()
	return nil
}
