package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

const defaultProgressTTL = time.Hour

func UserChannel(userID uuid.UUID) string       { return "user_updates:" + userID.String() }
func ContentChannel(contentID uuid.UUID) string { return "content_updates:" + contentID.String() }
func progressKey(contentID uuid.UUID) string    { return "progress:" + contentID.String() }

// Bus publishes workflow events over Redis pub/sub so every API instance
// can forward them to its websocket clients and long-wait requests.
type Bus struct {
	rdb         *redis.Client
	progressTTL time.Duration
	log         *logrus.Entry
}

func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb, progressTTL: defaultProgressTTL, log: logger.For("events")}
}

func (b *Bus) Publish(ctx context.Context, userID, contentID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.WithError(err).Error("failed to encode event")
		return
	}
	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, UserChannel(userID), data)
	pipe.Publish(ctx, ContentChannel(contentID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		b.log.WithError(err).WithField("content_id", contentID).Warn("failed to publish event")
	}
}

func (b *Bus) SetProgress(ctx context.Context, contentID uuid.UUID, progress int) {
	if err := b.rdb.Set(ctx, progressKey(contentID), progress, b.progressTTL).Err(); err != nil {
		b.log.WithError(err).WithField("content_id", contentID).Warn("failed to store progress")
	}
}

func (b *Bus) Progress(ctx context.Context, contentID uuid.UUID) (int, bool) {
	raw, err := b.rdb.Get(ctx, progressKey(contentID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.WithError(err).Warn("failed to read progress")
		}
		return 0, false
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return p, true
}

// SubscribeUser streams raw event payloads for userID until cancel is called.
func (b *Bus) SubscribeUser(ctx context.Context, userID uuid.UUID) (<-chan []byte, func()) {
	return b.subscribe(ctx, UserChannel(userID))
}

func (b *Bus) subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	ctx, cancel := context.WithCancel(ctx)
	pubsub := b.rdb.Subscribe(ctx, channel)
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel
}

// WaitForUpdate blocks until an event arrives for contentID or timeout
// elapses. It reports whether an event was seen.
func (b *Bus) WaitForUpdate(ctx context.Context, contentID uuid.UUID, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pubsub := b.rdb.Subscribe(ctx, ContentChannel(contentID))
	defer pubsub.Close()
	// make sure the subscription is live before waiting
	if _, err := pubsub.Receive(ctx); err != nil {
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case _, ok := <-pubsub.Channel():
		return ok
	}
}
