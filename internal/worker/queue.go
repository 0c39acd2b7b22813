package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"capora-backend/internal/models"
)

// JobStore persists job rows so clients can poll them.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateError(ctx context.Context, id uuid.UUID, errMsg string, retryCount int) error
}

// Queue records a job row and hands the job to the workers.
type Queue struct {
	broker Broker
	jobs   JobStore
}

func NewQueue(broker Broker, jobs JobStore) *Queue {
	return &Queue{broker: broker, jobs: jobs}
}

// EnqueueProcess queues variant processing for an item already claimed
// into processing.
func (q *Queue) EnqueueProcess(ctx context.Context, userID, contentID uuid.UUID) (*models.Job, error) {
	return q.enqueue(ctx, &models.Job{
		UserID:      userID,
		Type:        models.JobTypeVariantProcessing,
		ReferenceID: contentID,
	})
}

func (q *Queue) EnqueuePublish(ctx context.Context, userID, contentID uuid.UUID, cfg models.PublishJobConfig) (*models.Job, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode publish config: %w", err)
	}
	return q.enqueue(ctx, &models.Job{
		UserID:      userID,
		Type:        models.JobTypeContentPublishing,
		ReferenceID: contentID,
		ConfigJSON:  raw,
	})
}

func (q *Queue) enqueue(ctx context.Context, job *models.Job) (*models.Job, error) {
	if err := q.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	jobBytes, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	if err := q.broker.Push(ctx, queueFor(job.Type), jobBytes); err != nil {
		msg := "failed to queue job"
		_ = q.jobs.UpdateError(ctx, job.ID, msg, 0)
		_ = q.jobs.UpdateStatus(ctx, job.ID, models.JobStatusFailed)
		return nil, fmt.Errorf("queue job %s: %w", job.ID, err)
	}
	return job, nil
}
