package platforms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"capora-backend/internal/models"
)

var (
	ErrNotConnected  = errors.New("platform account not connected")
	ErrInvalidState  = errors.New("invalid or expired oauth state")
	ErrNotConfigured = errors.New("platform oauth app not configured")
)

// Account is a user's connection to one platform.
type Account struct {
	UserID      uuid.UUID       `json:"user_id"`
	Platform    models.Platform `json:"platform"`
	AccountID   string          `json:"account_id,omitempty"`
	Username    string          `json:"username,omitempty"`
	Token       *oauth2.Token   `json:"token"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// PendingAuth is the server side of an OAuth state nonce.
type PendingAuth struct {
	UserID   uuid.UUID       `json:"user_id"`
	Platform models.Platform `json:"platform"`
	Verifier string          `json:"verifier"`
}

type AccountStore interface {
	GetAccount(ctx context.Context, userID uuid.UUID, platform models.Platform) (*Account, error)
	SaveAccount(ctx context.Context, acct *Account) error
	DeleteAccount(ctx context.Context, userID uuid.UUID, platform models.Platform) (bool, error)
	PutState(ctx context.Context, nonce string, p PendingAuth, ttl time.Duration) error
	// TakeState returns and forgets the state; a nonce works once.
	TakeState(ctx context.Context, nonce string) (*PendingAuth, error)
}

func accountKey(userID uuid.UUID, platform models.Platform) string {
	return fmt.Sprintf("platform_account:%s:%s", userID, platform)
}

func stateKey(nonce string) string {
	return "oauth_state:" + nonce
}

type RedisAccountStore struct {
	rdb *redis.Client
}

func NewRedisAccountStore(rdb *redis.Client) *RedisAccountStore {
	return &RedisAccountStore{rdb: rdb}
}

func (s *RedisAccountStore) GetAccount(ctx context.Context, userID uuid.UUID, platform models.Platform) (*Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID, platform)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acct, nil
}

func (s *RedisAccountStore) SaveAccount(ctx context.Context, acct *Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return s.rdb.Set(ctx, accountKey(acct.UserID, acct.Platform), data, 0).Err()
}

func (s *RedisAccountStore) DeleteAccount(ctx context.Context, userID uuid.UUID, platform models.Platform) (bool, error) {
	n, err := s.rdb.Del(ctx, accountKey(userID, platform)).Result()
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	return n > 0, nil
}

func (s *RedisAccountStore) PutState(ctx context.Context, nonce string, p PendingAuth, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, stateKey(nonce), data, ttl).Err()
}

func (s *RedisAccountStore) TakeState(ctx context.Context, nonce string) (*PendingAuth, error) {
	data, err := s.rdb.GetDel(ctx, stateKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("take oauth state: %w", err)
	}
	var p PendingAuth
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidState
	}
	return &p, nil
}

type pendingEntry struct {
	auth    PendingAuth
	expires time.Time
}

// MemoryAccountStore is the in-process AccountStore used without Redis.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	states   map[string]pendingEntry
	now      func() time.Time
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]Account),
		states:   make(map[string]pendingEntry),
		now:      time.Now,
	}
}

func (s *MemoryAccountStore) GetAccount(_ context.Context, userID uuid.UUID, platform models.Platform) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountKey(userID, platform)]
	if !ok {
		return nil, ErrNotConnected
	}
	if acct.Token != nil {
		tok := *acct.Token
		acct.Token = &tok
	}
	return &acct, nil
}

func (s *MemoryAccountStore) SaveAccount(_ context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	if acct.Token != nil {
		tok := *acct.Token
		cp.Token = &tok
	}
	s.accounts[accountKey(acct.UserID, acct.Platform)] = cp
	return nil
}

func (s *MemoryAccountStore) DeleteAccount(_ context.Context, userID uuid.UUID, platform models.Platform) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := accountKey(userID, platform)
	_, ok := s.accounts[key]
	delete(s.accounts, key)
	return ok, nil
}

func (s *MemoryAccountStore) PutState(_ context.Context, nonce string, p PendingAuth, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[nonce] = pendingEntry{auth: p, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryAccountStore) TakeState(_ context.Context, nonce string) (*PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.states[nonce]
	delete(s.states, nonce)
	if !ok || !s.now().Before(e.expires) {
		return nil, ErrInvalidState
	}
	return &e.auth, nil
}
