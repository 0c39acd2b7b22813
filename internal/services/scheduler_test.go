package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capora-backend/internal/models"
	"capora-backend/internal/repository"
)

func newScheduler(h *harness) (*PublishScheduler, *stubEnqueuer) {
	q := &stubEnqueuer{}
	return NewPublishScheduler(repository.NewMemoryScheduleRepo(), h.publisher, q, h.events), q
}

func TestSchedule_RejectsPastTime(t *testing.T) {
	h := newHarness()
	s, _ := newScheduler(h)
	item := h.ready("tiktok")

	_, err := s.Schedule(context.Background(), h.userID, item.ID, ScheduleInput{
		Platforms: []string{"tiktok"},
		RunAt:     time.Now().Add(-time.Minute),
	})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "schedule_time")
}

func TestSchedule_ValidatesLikePublish(t *testing.T) {
	h := newHarness()
	s, _ := newScheduler(h)
	item := h.upload("tiktok")

	_, err := s.Schedule(context.Background(), h.userID, item.ID, ScheduleInput{
		Platforms: []string{"tiktok"},
		RunAt:     time.Now().Add(time.Hour),
	})
	var se *InvalidStateError
	assert.True(t, errors.As(err, &se))
}

func TestSchedule_RunDueEnqueuesOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	s, q := newScheduler(h)
	item := h.ready("tiktok", "instagram")

	now := time.Now()
	s.now = func() time.Time { return now }
	override := "launch day"
	sp, err := s.Schedule(ctx, h.userID, item.ID, ScheduleInput{
		Platforms:       []string{"instagram"},
		RunAt:           now.Add(5 * time.Minute),
		CaptionOverride: &override,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, s.RunDue(ctx, now))
	assert.Equal(t, 1, s.RunDue(ctx, now.Add(10*time.Minute)))
	assert.Equal(t, 0, s.RunDue(ctx, now.Add(11*time.Minute)))

	require.Len(t, q.jobs, 1)
	assert.Equal(t, []models.Platform{models.PlatformInstagram}, q.jobs[0].Platforms)
	assert.Equal(t, "launch day", *q.jobs[0].CaptionOverride)
	assert.Equal(t, sp.ID, *q.jobs[0].ScheduleID)
	assert.False(t, q.jobs[0].Prepared)
}

func TestSchedule_CancelOwnershipAndConflict(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	s, _ := newScheduler(h)
	item := h.ready("tiktok")

	sp, err := s.Schedule(ctx, h.userID, item.ID, ScheduleInput{Platforms: []string{"tiktok"}, RunAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	var nf *NotFoundError
	assert.True(t, errors.As(s.Cancel(ctx, uuid.New(), sp.ID), &nf))

	list, err := s.List(ctx, h.userID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.Cancel(ctx, h.userID, sp.ID))
	assert.True(t, errors.As(s.Cancel(ctx, h.userID, sp.ID), &nf))
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	h := newHarness()
	s, _ := newScheduler(h)
	s.Stop()
	s.Stop()
}

func TestSchedule_EnqueueFailureKeepsEntry(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	s, q := newScheduler(h)
	item := h.ready("tiktok")

	now := time.Now()
	s.now = func() time.Time { return now }
	sp, err := s.Schedule(ctx, h.userID, item.ID, ScheduleInput{Platforms: []string{"tiktok"}, RunAt: now.Add(time.Minute)})
	require.NoError(t, err)

	q.err = errors.New("redis: connection refused")
	assert.Equal(t, 0, s.RunDue(ctx, now.Add(2*time.Minute)))

	list, err := s.List(ctx, h.userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, sp.ID, list[0].ID)

	q.err = nil
	assert.Equal(t, 1, s.RunDue(ctx, now.Add(3*time.Minute)))
	require.Len(t, q.jobs, 1)
	assert.Equal(t, sp.ID, *q.jobs[0].ScheduleID)
}

// brokenScheduleStore claims entries but cannot write them back.
type brokenScheduleStore struct {
	*repository.MemoryScheduleRepo
	failAdd bool
}

func (s *brokenScheduleStore) Add(ctx context.Context, sp *models.ScheduledPublish) error {
	if s.failAdd {
		return errors.New("redis: connection refused")
	}
	return s.MemoryScheduleRepo.Add(ctx, sp)
}

func TestSchedule_DroppedEntryEmitsError(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	store := &brokenScheduleStore{MemoryScheduleRepo: repository.NewMemoryScheduleRepo()}
	q := &stubEnqueuer{err: errors.New("queue down")}
	s := NewPublishScheduler(store, h.publisher, q, h.events)
	item := h.ready("tiktok")

	now := time.Now()
	s.now = func() time.Time { return now }
	_, err := s.Schedule(ctx, h.userID, item.ID, ScheduleInput{Platforms: []string{"tiktok"}, RunAt: now.Add(time.Minute)})
	require.NoError(t, err)

	store.failAdd = true
	assert.Equal(t, 0, s.RunDue(ctx, now.Add(2*time.Minute)))

	var dropped []models.ErrorEvent
	h.events.mu.Lock()
	for _, m := range h.events.messages {
		if ev, ok := m.Payload.(models.ErrorEvent); ok {
			dropped = append(dropped, ev)
		}
	}
	h.events.mu.Unlock()
	require.Len(t, dropped, 1)
	assert.Equal(t, "SCHEDULE_DROPPED", dropped[0].ErrorCode)
	assert.Equal(t, item.ID, dropped[0].ContentID)
}
