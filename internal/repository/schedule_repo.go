package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"capora-backend/internal/models"
)

var ErrScheduleNotFound = errors.New("schedule not found")

const scheduleDueKey = "schedules:due"

func scheduleKey(id uuid.UUID) string          { return "schedule:" + id.String() }
func userSchedulesKey(userID uuid.UUID) string { return "user_schedules:" + userID.String() }

// ScheduleRepo keeps deferred publishes in a Redis sorted set scored by
// run-at. Claiming is a ZREM, so only one instance runs a given entry.
type ScheduleRepo struct {
	rdb *redis.Client
}

func NewScheduleRepo(rdb *redis.Client) *ScheduleRepo {
	return &ScheduleRepo{rdb: rdb}
}

func (r *ScheduleRepo) Add(ctx context.Context, s *models.ScheduledPublish) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, scheduleKey(s.ID), data, 0)
		pipe.ZAdd(ctx, scheduleDueKey, redis.Z{Score: float64(s.RunAt.Unix()), Member: s.ID.String()})
		pipe.SAdd(ctx, userSchedulesKey(s.UserID), s.ID.String())
		return nil
	})
	return err
}

func (r *ScheduleRepo) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledPublish, error) {
	data, err := r.rdb.Get(ctx, scheduleKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, err
	}
	var s models.ScheduledPublish
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return &s, nil
}

func (r *ScheduleRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.ScheduledPublish, error) {
	ids, err := r.rdb.SMembers(ctx, userSchedulesKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := []models.ScheduledPublish{}
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		s, err := r.Get(ctx, id)
		if errors.Is(err, ErrScheduleNotFound) {
			r.rdb.SRem(ctx, userSchedulesKey(userID), raw)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

// Remove cancels a schedule. It reports false if the entry was already
// claimed or never existed.
func (r *ScheduleRepo) Remove(ctx context.Context, s *models.ScheduledPublish) (bool, error) {
	removed, err := r.rdb.ZRem(ctx, scheduleDueKey, s.ID.String()).Result()
	if err != nil {
		return false, err
	}
	r.forget(ctx, s)
	return removed == 1, nil
}

func (r *ScheduleRepo) forget(ctx context.Context, s *models.ScheduledPublish) {
	r.rdb.Del(ctx, scheduleKey(s.ID))
	r.rdb.SRem(ctx, userSchedulesKey(s.UserID), s.ID.String())
}

// ClaimDue removes and returns up to limit entries whose run-at is <= now.
func (r *ScheduleRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledPublish, error) {
	ids, err := r.rdb.ZRangeByScore(ctx, scheduleDueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	var claimed []models.ScheduledPublish
	for _, raw := range ids {
		won, err := r.rdb.ZRem(ctx, scheduleDueKey, raw).Result()
		if err != nil {
			return claimed, err
		}
		if won != 1 {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		s, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		r.forget(ctx, s)
		claimed = append(claimed, *s)
	}
	return claimed, nil
}

// MemoryScheduleRepo is the single-process equivalent of ScheduleRepo.
type MemoryScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]models.ScheduledPublish
}

func NewMemoryScheduleRepo() *MemoryScheduleRepo {
	return &MemoryScheduleRepo{schedules: make(map[uuid.UUID]models.ScheduledPublish)}
}

func (r *MemoryScheduleRepo) Add(_ context.Context, s *models.ScheduledPublish) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = *s
	return nil
}

func (r *MemoryScheduleRepo) Get(_ context.Context, id uuid.UUID) (*models.ScheduledPublish, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &s, nil
}

func (r *MemoryScheduleRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]models.ScheduledPublish, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ScheduledPublish{}
	for _, s := range r.schedules {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

func (r *MemoryScheduleRepo) Remove(_ context.Context, s *models.ScheduledPublish) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[s.ID]; !ok {
		return false, nil
	}
	delete(r.schedules, s.ID)
	return true, nil
}

func (r *MemoryScheduleRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]models.ScheduledPublish, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []models.ScheduledPublish
	for _, s := range r.schedules {
		if !s.RunAt.After(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, s := range due {
		delete(r.schedules, s.ID)
	}
	return due, nil
}
