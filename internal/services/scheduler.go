package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
	"capora-backend/internal/repository"
)

const (
	schedulePollInterval = 1 * time.Minute
	scheduleClaimBatch   = 50
)

type ScheduleStore interface {
	Add(ctx context.Context, s *models.ScheduledPublish) error
	Get(ctx context.Context, id uuid.UUID) (*models.ScheduledPublish, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.ScheduledPublish, error)
	Remove(ctx context.Context, s *models.ScheduledPublish) (bool, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledPublish, error)
}

// PublishEnqueuer hands a publish off to the background workers.
type PublishEnqueuer interface {
	EnqueuePublish(ctx context.Context, userID, contentID uuid.UUID, cfg models.PublishJobConfig) (*models.Job, error)
}

type ScheduleInput struct {
	Platforms       []string
	RunAt           time.Time
	CaptionOverride *string
}

type PublishScheduler struct {
	store     ScheduleStore
	publisher *PublishOrchestrator
	enqueuer  PublishEnqueuer
	events    EventPublisher
	interval  time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	log       *logrus.Entry
}

func NewPublishScheduler(store ScheduleStore, publisher *PublishOrchestrator, enqueuer PublishEnqueuer, events EventPublisher) *PublishScheduler {
	return &PublishScheduler{
		store:     store,
		publisher: publisher,
		enqueuer:  enqueuer,
		events:    events,
		interval:  schedulePollInterval,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		log:       logger.For("scheduler"),
	}
}

// Schedule records a deferred publish after checking it could run today.
func (s *PublishScheduler) Schedule(ctx context.Context, userID, contentID uuid.UUID, in ScheduleInput) (*models.ScheduledPublish, error) {
	if !in.RunAt.After(s.now()) {
		return nil, &ValidationError{Fields: map[string]string{"schedule_time": "must be in the future"}}
	}
	_, targets, err := s.publisher.Validate(ctx, userID, contentID, PublishInput{
		Platforms:       in.Platforms,
		CaptionOverride: in.CaptionOverride,
	})
	if err != nil {
		return nil, err
	}

	sp := &models.ScheduledPublish{
		ContentID:       contentID,
		UserID:          userID,
		Platforms:       targets,
		CaptionOverride: in.CaptionOverride,
		RunAt:           in.RunAt.UTC(),
	}
	if err := s.store.Add(ctx, sp); err != nil {
		return nil, fmt.Errorf("save schedule: %w", err)
	}

	s.log.WithFields(logrus.Fields{"content_id": contentID, "schedule_id": sp.ID, "run_at": sp.RunAt}).Info("publish scheduled")
	return sp, nil
}

func (s *PublishScheduler) List(ctx context.Context, userID uuid.UUID) ([]models.ScheduledPublish, error) {
	list, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return list, nil
}

func (s *PublishScheduler) Cancel(ctx context.Context, userID, scheduleID uuid.UUID) error {
	sp, err := s.store.Get(ctx, scheduleID)
	if errors.Is(err, repository.ErrScheduleNotFound) {
		return &NotFoundError{Message: "Schedule not found"}
	}
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if sp.UserID != userID {
		return &NotFoundError{Message: "Schedule not found"}
	}

	removed, err := s.store.Remove(ctx, sp)
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}
	if !removed {
		return &ConflictError{Message: "Schedule has already started"}
	}
	return nil
}

func (s *PublishScheduler) Start() {
	if s.store == nil || s.enqueuer == nil {
		return
	}
	go s.loop()
	s.log.Info("publish scheduler started")
}

func (s *PublishScheduler) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
		close(s.stopChan)
	}
}

func (s *PublishScheduler) loop() {
	s.RunDue(context.Background(), s.now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.RunDue(context.Background(), s.now())
		}
	}
}

// RunDue claims every entry due at now and enqueues a publish job for each.
// Entries that cannot be enqueued go back on the schedule for the next pass.
// It returns how many jobs were enqueued.
func (s *PublishScheduler) RunDue(ctx context.Context, now time.Time) int {
	enqueued := 0
	var retry []models.ScheduledPublish
	for {
		due, err := s.store.ClaimDue(ctx, now, scheduleClaimBatch)
		if err != nil {
			s.log.WithError(err).Error("failed to claim due schedules")
			break
		}
		for _, sp := range due {
			scheduleID := sp.ID
			job, err := s.enqueuer.EnqueuePublish(ctx, sp.UserID, sp.ContentID, models.PublishJobConfig{
				Platforms:       sp.Platforms,
				CaptionOverride: sp.CaptionOverride,
				ScheduleID:      &scheduleID,
			})
			entry := s.log.WithFields(logrus.Fields{"schedule_id": sp.ID, "content_id": sp.ContentID})
			if err != nil {
				entry.WithError(err).Error("failed to enqueue scheduled publish")
				retry = append(retry, sp)
				continue
			}
			entry.WithField("job_id", job.ID).Info("scheduled publish enqueued")
			enqueued++
		}
		if len(due) < scheduleClaimBatch {
			break
		}
	}
	s.restore(ctx, retry)
	return enqueued
}

func (s *PublishScheduler) restore(ctx context.Context, schedules []models.ScheduledPublish) {
	for _, sp := range schedules {
		entry := s.log.WithFields(logrus.Fields{"schedule_id": sp.ID, "content_id": sp.ContentID})
		if err := s.store.Add(ctx, &sp); err != nil {
			entry.WithError(err).Error("scheduled publish dropped")
			if s.events != nil {
				s.events.Publish(ctx, sp.UserID, sp.ContentID, models.WSMessage{
					Type: models.EventError,
					Payload: models.ErrorEvent{
						ContentID:    sp.ContentID,
						ErrorCode:    "SCHEDULE_DROPPED",
						ErrorMessage: fmt.Sprintf("scheduled publish %s could not be queued", sp.ID),
					},
				})
			}
			continue
		}
		entry.Warn("scheduled publish kept for the next pass")
	}
}
