package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
	"capora-backend/internal/services"
)

const (
	defaultMaxRetries = 3
	defaultPopTimeout = 30 * time.Second
	defaultLockTTL    = 30 * time.Minute
)

// Processor runs variant processing for an item already in processing.
type Processor interface {
	Run(ctx context.Context, contentID uuid.UUID) (*services.ProcessOutcome, error)
	Fail(ctx context.Context, contentID uuid.UUID, reason string) error
}

// Publisher runs a publish. Prepare takes the publish guard; Run always
// releases it.
type Publisher interface {
	Prepare(ctx context.Context, userID, contentID uuid.UUID, in services.PublishInput) ([]models.Platform, error)
	Run(ctx context.Context, contentID uuid.UUID, targets []models.Platform, captionOverride *string) (*services.PublishOutcome, error)
}

type Pool struct {
	broker      Broker
	jobs        JobStore
	processor   Processor
	publisher   Publisher
	events      services.EventPublisher
	workerCount int
	popTimeout  time.Duration
	lockTTL     time.Duration
	backoff     func(retry int) time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logrus.Entry
}

func NewPool(
	broker Broker,
	jobs JobStore,
	processor Processor,
	publisher Publisher,
	events services.EventPublisher,
	workerCount int,
) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		broker:      broker,
		jobs:        jobs,
		processor:   processor,
		publisher:   publisher,
		events:      events,
		workerCount: workerCount,
		popTimeout:  defaultPopTimeout,
		lockTTL:     defaultLockTTL,
		backoff:     exponentialBackoff,
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.For("worker"),
	}
}

func exponentialBackoff(retry int) time.Duration {
	return time.Duration(1<<uint(retry)) * time.Second
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Infof("Started %d worker goroutines", p.workerCount)
}

// Stop stops polling and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)

	for {
		if p.ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		_, payload, err := p.broker.Pop(p.ctx, p.popTimeout, QueueVariantProcessing, QueueContentPublishing)
		if err != nil {
			if !errors.Is(err, ErrQueueEmpty) && p.ctx.Err() == nil {
				log.WithError(err).Warn("failed to pop job")
				p.pause(time.Second)
			}
			continue
		}

		var job models.Job
		if err := json.Unmarshal(payload, &job); err != nil {
			log.WithError(err).Error("failed to parse job")
			continue
		}
		p.handle(context.Background(), &job)
	}
}

func (p *Pool) pause(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}

func (p *Pool) handle(ctx context.Context, job *models.Job) {
	key := lockKey(job.ID.String())
	locked, err := p.broker.Lock(ctx, key, p.lockTTL)
	if err != nil || !locked {
		// another worker has this job
		return
	}
	defer func() {
		if err := p.broker.Unlock(context.Background(), key); err != nil {
			p.log.WithError(err).WithField("job_id", job.ID).Warn("failed to release job lock")
		}
	}()

	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "type": job.Type, "content_id": job.ReferenceID})
	log.Info("processing job")
	if err := p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		log.WithError(err).Warn("failed to mark job processing")
	}

	var (
		status models.ContentStatus
		runErr error
	)
	switch job.Type {
	case models.JobTypeVariantProcessing:
		status, runErr = p.runProcess(ctx, job)
	case models.JobTypeContentPublishing:
		status, runErr = p.runPublish(ctx, job)
	default:
		runErr = permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}

	if runErr != nil {
		p.handleFailure(ctx, job, runErr)
		return
	}
	p.handleSuccess(ctx, job, status)
}

func (p *Pool) runProcess(ctx context.Context, job *models.Job) (models.ContentStatus, error) {
	out, err := p.processor.Run(ctx, job.ReferenceID)
	if err != nil {
		return "", err
	}
	return out.Status, nil
}

func (p *Pool) runPublish(ctx context.Context, job *models.Job) (models.ContentStatus, error) {
	var cfg models.PublishJobConfig
	if err := json.Unmarshal(job.ConfigJSON, &cfg); err != nil {
		return "", permanent(fmt.Errorf("decode publish config: %w", err))
	}

	targets := cfg.Platforms
	if !cfg.Prepared {
		names := make([]string, len(cfg.Platforms))
		for i, pl := range cfg.Platforms {
			names[i] = string(pl)
		}
		prepared, err := p.publisher.Prepare(ctx, job.UserID, job.ReferenceID, services.PublishInput{
			Platforms:       names,
			CaptionOverride: cfg.CaptionOverride,
		})
		if err != nil {
			return "", err
		}
		targets = prepared
	}

	// Run releases the guard, so a retried job has to take it again.
	cfg.Prepared = false
	if raw, err := json.Marshal(cfg); err == nil {
		job.ConfigJSON = raw
	}

	out, err := p.publisher.Run(ctx, job.ReferenceID, targets, cfg.CaptionOverride)
	if err != nil {
		return "", err
	}
	return out.Status, nil
}

func (p *Pool) handleSuccess(ctx context.Context, job *models.Job, status models.ContentStatus) {
	if err := p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusCompleted); err != nil {
		p.log.WithError(err).WithField("job_id", job.ID).Warn("failed to mark job completed")
	}

	p.publishEvent(ctx, job, models.WSMessage{
		Type: models.EventCompleted,
		Payload: models.CompletedEvent{
			JobID:      job.ID,
			ContentID:  job.ReferenceID,
			ResultType: resultType(job.Type),
			Status:     status,
		},
	})

	p.log.WithFields(logrus.Fields{"job_id": job.ID, "status": status}).Info("job completed")
}

func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) {
	job.RetryCount++
	errMsg := err.Error()
	maxRetries := job.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "attempt": job.RetryCount})

	if !isPermanent(err) && job.RetryCount < maxRetries {
		log.WithError(err).Warn("job failed, retrying")
		_ = p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusPending)
		_ = p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

		jobBytes, _ := json.Marshal(job)
		queue := queueFor(job.Type)
		time.AfterFunc(p.backoff(job.RetryCount), func() {
			if err := p.broker.Push(context.Background(), queue, jobBytes); err != nil {
				log.WithError(err).Error("failed to requeue job")
			}
		})
		return
	}

	log.WithError(err).Error("job failed permanently")
	_ = p.jobs.UpdateStatus(ctx, job.ID, models.JobStatusFailed)
	_ = p.jobs.UpdateError(ctx, job.ID, errMsg, job.RetryCount)

	var stateErr *services.InvalidStateError
	if job.Type == models.JobTypeVariantProcessing && !errors.As(err, &stateErr) {
		if err := p.processor.Fail(ctx, job.ReferenceID, errMsg); err != nil {
			log.WithError(err).Error("failed to mark content failed")
		}
	}

	code := "JOB_FAILED"
	if scheduleID := scheduledBy(job); scheduleID != nil {
		code = "SCHEDULED_PUBLISH_FAILED"
		log.WithField("schedule_id", *scheduleID).Warn("scheduled publish did not run")
	}
	p.publishEvent(ctx, job, models.WSMessage{
		Type: models.EventError,
		Payload: models.ErrorEvent{
			JobID:        job.ID,
			ContentID:    job.ReferenceID,
			ErrorCode:    code,
			ErrorMessage: errMsg,
		},
	})
}

func scheduledBy(job *models.Job) *uuid.UUID {
	if job.Type != models.JobTypeContentPublishing {
		return nil
	}
	var cfg models.PublishJobConfig
	if err := json.Unmarshal(job.ConfigJSON, &cfg); err != nil {
		return nil
	}
	return cfg.ScheduleID
}

func (p *Pool) publishEvent(ctx context.Context, job *models.Job, msg models.WSMessage) {
	if p.events == nil {
		return
	}
	p.events.Publish(ctx, job.UserID, job.ReferenceID, msg)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	var (
		perm     *permanentError
		state    *services.InvalidStateError
		missing  *services.MissingVariantError
		notFound *services.NotFoundError
		invalid  *services.ValidationError
		sent     *services.DispatchedError
	)
	return errors.As(err, &perm) ||
		errors.As(err, &state) ||
		errors.As(err, &missing) ||
		errors.As(err, &notFound) ||
		errors.As(err, &invalid) ||
		errors.As(err, &sent)
}

func resultType(jobType string) string {
	switch jobType {
	case models.JobTypeVariantProcessing:
		return "variants"
	case models.JobTypeContentPublishing:
		return "publish"
	default:
		return "content"
	}
}
