package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"capora-backend/internal/models"
)

// Local is a single-process Bus used when Redis pub/sub is not wanted,
// for example in tests.
type Local struct {
	mu       sync.Mutex
	progress map[uuid.UUID]int
	subs     map[string]map[chan []byte]struct{}
}

func NewLocal() *Local {
	return &Local{
		progress: make(map[uuid.UUID]int),
		subs:     make(map[string]map[chan []byte]struct{}),
	}
}

func (l *Local) Publish(_ context.Context, userID, contentID uuid.UUID, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, channel := range []string{UserChannel(userID), ContentChannel(contentID)} {
		for ch := range l.subs[channel] {
			select {
			case ch <- data:
			default:
				// slow subscriber; drop rather than block the workflow
			}
		}
	}
}

func (l *Local) SetProgress(_ context.Context, contentID uuid.UUID, progress int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress[contentID] = progress
}

func (l *Local) Progress(_ context.Context, contentID uuid.UUID) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.progress[contentID]
	return p, ok
}

func (l *Local) subscribe(channel string) (chan []byte, func()) {
	ch := make(chan []byte, 16)
	l.mu.Lock()
	if l.subs[channel] == nil {
		l.subs[channel] = make(map[chan []byte]struct{})
	}
	l.subs[channel][ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs[channel], ch)
			close(ch)
			l.mu.Unlock()
		})
	}
}

func (l *Local) SubscribeUser(ctx context.Context, userID uuid.UUID) (<-chan []byte, func()) {
	ctx, stop := context.WithCancel(ctx)
	ch, cancel := l.subscribe(UserChannel(userID))
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, stop
}

func (l *Local) WaitForUpdate(ctx context.Context, contentID uuid.UUID, timeout time.Duration) bool {
	ch, cancel := l.subscribe(ContentChannel(contentID))
	defer cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
