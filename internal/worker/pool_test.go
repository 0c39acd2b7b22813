package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capora-backend/internal/models"
	"capora-backend/internal/repository"
	"capora-backend/internal/services"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   int
	results []error
	failed  []string
}

func (f *fakeProcessor) Run(_ context.Context, contentID uuid.UUID) (*services.ProcessOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return &services.ProcessOutcome{ContentID: contentID, Status: models.StatusReady}, nil
}

func (f *fakeProcessor) Fail(_ context.Context, _ uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, reason)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	prepares int
	runs     int
	runErrs  []error
	targets  []models.Platform
}

func (f *fakePublisher) Prepare(_ context.Context, _, _ uuid.UUID, in services.PublishInput) ([]models.Platform, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepares++
	return services.ParsePlatforms(in.Platforms)
}

func (f *fakePublisher) Run(_ context.Context, contentID uuid.UUID, targets []models.Platform, _ *string) (*services.PublishOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	f.targets = targets
	if len(f.runErrs) > 0 {
		err := f.runErrs[0]
		f.runErrs = f.runErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &services.PublishOutcome{ContentID: contentID, Status: models.StatusPublished}, nil
}

type recordingEvents struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (r *recordingEvents) Publish(_ context.Context, _, _ uuid.UUID, msg models.WSMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recordingEvents) SetProgress(context.Context, uuid.UUID, int) {}

func (r *recordingEvents) Progress(context.Context, uuid.UUID) (int, bool) { return 0, false }

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

type fixture struct {
	broker    *MemoryBroker
	jobs      *repository.MemoryJobRepo
	queue     *Queue
	processor *fakeProcessor
	publisher *fakePublisher
	events    *recordingEvents
	pool      *Pool
}

func newFixture() *fixture {
	f := &fixture{
		broker:    NewMemoryBroker(16),
		jobs:      repository.NewMemoryJobRepo(),
		processor: &fakeProcessor{},
		publisher: &fakePublisher{},
		events:    &recordingEvents{},
	}
	f.queue = NewQueue(f.broker, f.jobs)
	f.pool = NewPool(f.broker, f.jobs, f.processor, f.publisher, f.events, 1)
	f.pool.backoff = func(int) time.Duration { return 0 }
	return f
}

// next pops the next queued job and runs it on the calling goroutine.
func (f *fixture) next(t *testing.T) *models.Job {
	t.Helper()
	queue, payload, err := f.broker.Pop(context.Background(), time.Second)
	require.NoError(t, err)

	var job models.Job
	require.NoError(t, json.Unmarshal(payload, &job))
	assert.Equal(t, queueFor(job.Type), queue)
	f.pool.handle(context.Background(), &job)

	stored, err := f.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	return stored
}

func TestQueue_EnqueueProcessCreatesPendingJob(t *testing.T) {
	f := newFixture()
	userID, contentID := uuid.New(), uuid.New()

	job, err := f.queue.EnqueueProcess(context.Background(), userID, contentID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobTypeVariantProcessing, job.Type)

	queue, payload, err := f.broker.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, QueueVariantProcessing, queue)

	var queued models.Job
	require.NoError(t, json.Unmarshal(payload, &queued))
	assert.Equal(t, job.ID, queued.ID)
	assert.Equal(t, contentID, queued.ReferenceID)
}

func TestPool_ProcessJobCompletes(t *testing.T) {
	f := newFixture()
	_, err := f.queue.EnqueueProcess(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, []string{models.EventCompleted}, f.events.types())
}

func TestPool_RetriesTransientFailure(t *testing.T) {
	f := newFixture()
	f.processor.results = []error{errors.New("connection reset")}
	_, err := f.queue.EnqueueProcess(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "connection reset", *job.ErrorMessage)

	job = f.next(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, f.processor.calls)
	assert.Empty(t, f.processor.failed)
}

func TestPool_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture()
	boom := errors.New("store unavailable")
	f.processor.results = []error{boom, boom, boom}
	_, err := f.queue.EnqueueProcess(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)

	f.next(t)
	f.next(t)
	job := f.next(t)

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.RetryCount)
	assert.Equal(t, []string{"store unavailable"}, f.processor.failed)
	assert.Equal(t, []string{models.EventError}, f.events.types())
}

func TestPool_InvalidStateIsNotRetried(t *testing.T) {
	f := newFixture()
	f.processor.results = []error{&services.InvalidStateError{Message: "content is not processing"}}
	_, err := f.queue.EnqueueProcess(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, f.processor.calls)
	assert.Empty(t, f.processor.failed)
}

func TestPool_PreparedPublishSkipsPrepare(t *testing.T) {
	f := newFixture()
	_, err := f.queue.EnqueuePublish(context.Background(), uuid.New(), uuid.New(), models.PublishJobConfig{
		Platforms: []models.Platform{models.PlatformTikTok},
		Prepared:  true,
	})
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, f.publisher.prepares)
	assert.Equal(t, []models.Platform{models.PlatformTikTok}, f.publisher.targets)
}

func TestPool_PublishRetryTakesGuardAgain(t *testing.T) {
	f := newFixture()
	f.publisher.runErrs = []error{errors.New("write result: timeout")}
	_, err := f.queue.EnqueuePublish(context.Background(), uuid.New(), uuid.New(), models.PublishJobConfig{
		Platforms: []models.Platform{models.PlatformTwitter},
		Prepared:  true,
	})
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusPending, job.Status)

	job = f.next(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, f.publisher.prepares)
	assert.Equal(t, 2, f.publisher.runs)
}

func TestPool_ScheduledPublishMissingVariantFailsOnce(t *testing.T) {
	f := newFixture()
	f.publisher.runErrs = []error{&services.MissingVariantError{Platforms: []models.Platform{models.PlatformFacebook}}}
	scheduleID := uuid.New()
	_, err := f.queue.EnqueuePublish(context.Background(), uuid.New(), uuid.New(), models.PublishJobConfig{
		Platforms:  []models.Platform{models.PlatformFacebook},
		ScheduleID: &scheduleID,
	})
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, f.publisher.prepares)
}

func TestPool_ScheduledPublishBlockedByGuardNotifies(t *testing.T) {
	f := newFixture()
	f.publisher.runErrs = []error{&services.InvalidStateError{Message: "content is already being published"}}
	scheduleID := uuid.New()
	_, err := f.queue.EnqueuePublish(context.Background(), uuid.New(), uuid.New(), models.PublishJobConfig{
		Platforms:  []models.Platform{models.PlatformTikTok},
		ScheduleID: &scheduleID,
	})
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.msgs, 1)
	ev, ok := f.events.msgs[0].Payload.(models.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "SCHEDULED_PUBLISH_FAILED", ev.ErrorCode)
	assert.Equal(t, "content is already being published", ev.ErrorMessage)
}

func TestPool_StartStop(t *testing.T) {
	f := newFixture()
	f.pool.popTimeout = 50 * time.Millisecond
	f.pool.Start()

	job, err := f.queue.EnqueueProcess(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := f.jobs.GetByID(context.Background(), job.ID)
		return err == nil && stored.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	f.pool.Stop()
}

func TestMemoryBroker_LockIsExclusiveUntilExpiry(t *testing.T) {
	b := NewMemoryBroker(1)
	now := time.Now()
	b.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := b.Lock(ctx, "job_lock:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = b.Lock(ctx, "job_lock:1", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = b.Lock(ctx, "job_lock:1", time.Minute)
	assert.True(t, ok)

	require.NoError(t, b.Unlock(ctx, "job_lock:1"))
	ok, _ = b.Lock(ctx, "job_lock:1", time.Minute)
	assert.True(t, ok)
}

func TestMemoryBroker_PopTimesOut(t *testing.T) {
	b := NewMemoryBroker(1)
	_, _, err := b.Pop(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

type countingAdapter struct {
	mu    sync.Mutex
	calls int
}

func (a *countingAdapter) Platform() models.Platform { return models.PlatformTikTok }

func (a *countingAdapter) Publish(context.Context, models.PostRequest) (*models.PostReceipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return &models.PostReceipt{PostID: "tt-1", PostedAt: time.Now()}, nil
}

// flakyResults fails the first publish result write.
type flakyResults struct {
	*repository.MemoryStore
	mu     sync.Mutex
	failed bool
}

func (s *flakyResults) InsertPublishResult(ctx context.Context, pr *models.PublishResult) error {
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	s.mu.Unlock()
	if first {
		return errors.New("connection reset")
	}
	return s.MemoryStore.InsertPublishResult(ctx, pr)
}

func TestPool_PublishNotRepostedWhenResultWriteFails(t *testing.T) {
	ctx := context.Background()
	store := &flakyResults{MemoryStore: repository.NewMemoryStore()}
	item := &models.ContentItem{
		UserID:         uuid.New(),
		Title:          "clip",
		Platforms:      []models.Platform{models.PlatformTikTok},
		SourceLocation: "uploads/clip.mp4",
		Status:         models.StatusReady,
	}
	require.NoError(t, store.CreateContent(ctx, item))
	require.NoError(t, store.UpsertVariant(ctx, &models.VideoVariant{
		ContentID:     item.ID,
		Platform:      models.PlatformTikTok,
		MediaLocation: "media/tiktok.mp4",
		Status:        models.VariantSucceeded,
	}))

	adapter := &countingAdapter{}
	f := newFixture()
	publisher := services.NewPublishOrchestrator(store, []services.PlatformAdapter{adapter}, nil, nil, time.Second)
	f.pool = NewPool(f.broker, f.jobs, f.processor, publisher, f.events, 1)
	f.pool.backoff = func(int) time.Duration { return 0 }

	_, err := f.queue.EnqueuePublish(ctx, item.UserID, item.ID, models.PublishJobConfig{
		Platforms: []models.Platform{models.PlatformTikTok},
	})
	require.NoError(t, err)

	job := f.next(t)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, adapter.calls)

	_, _, err = f.broker.Pop(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty, "the publish must not be requeued")

	got, err := store.GetContent(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.False(t, got.Publishing)
	assert.Equal(t, []string{models.EventError}, f.events.types())
}
