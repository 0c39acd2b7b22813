package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"capora-backend/internal/models"
	"capora-backend/internal/repository"
)

type stubTranscoder struct {
	mu     sync.Mutex
	fail   map[models.Platform]error
	block  map[models.Platform]bool
	result func(spec models.PlatformSpec) *models.TranscodeResult
	calls  []models.Platform
}

func (t *stubTranscoder) Transcode(ctx context.Context, req models.TranscodeRequest) (*models.TranscodeResult, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req.Spec.Platform)
	t.mu.Unlock()

	if t.block[req.Spec.Platform] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := t.fail[req.Spec.Platform]; err != nil {
		return nil, err
	}
	if t.result != nil {
		return t.result(req.Spec), nil
	}
	return &models.TranscodeResult{
		MediaLocation:   "media/" + req.ContentID.String() + "/" + string(req.Spec.Platform) + ".mp4",
		Width:           req.Spec.Width,
		Height:          req.Spec.Height,
		DurationSeconds: 30,
		SizeBytes:       1024,
		Format:          "mp4",
	}, nil
}

type stubAdapter struct {
	platform models.Platform
	mu       sync.Mutex
	err      error
	block    bool
	calls    []models.PostRequest
}

func (a *stubAdapter) Platform() models.Platform { return a.platform }

func (a *stubAdapter) Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req)
	err := a.err
	a.mu.Unlock()

	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &models.PostReceipt{
		PostID:   string(a.platform) + "-post",
		PostURL:  "https://example.com/" + string(a.platform),
		PostedAt: time.Now(),
	}, nil
}

func (a *stubAdapter) setErr(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

func (a *stubAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type recordingEvents struct {
	mu       sync.Mutex
	messages []models.WSMessage
	progress map[uuid.UUID]int
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{progress: make(map[uuid.UUID]int)}
}

func (e *recordingEvents) Publish(_ context.Context, _, _ uuid.UUID, msg models.WSMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
}

func (e *recordingEvents) SetProgress(_ context.Context, contentID uuid.UUID, p int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress[contentID] = p
}

func (e *recordingEvents) Progress(_ context.Context, contentID uuid.UUID) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.progress[contentID]
	return p, ok
}

type stubEnqueuer struct {
	mu   sync.Mutex
	jobs []models.PublishJobConfig
	err  error
}

func (q *stubEnqueuer) EnqueuePublish(_ context.Context, userID, contentID uuid.UUID, cfg models.PublishJobConfig) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.jobs = append(q.jobs, cfg)
	return &models.Job{ID: uuid.New(), UserID: userID, ReferenceID: contentID, Type: models.JobTypeContentPublishing}, nil
}

type staticURLs struct{}

func (staticURLs) PublicURL(location string) string { return "https://cdn.example.com/" + location }

// failingStore breaks selected writes on top of the memory store.
type failingStore struct {
	*repository.MemoryStore
	failVariantWrites bool
	failResultWrites  bool
}

func (s *failingStore) InsertPublishResult(ctx context.Context, pr *models.PublishResult) error {
	if s.failResultWrites {
		return errors.New("db unavailable")
	}
	return s.MemoryStore.InsertPublishResult(ctx, pr)
}

func (s *failingStore) UpsertVariant(ctx context.Context, v *models.VideoVariant) error {
	if s.failVariantWrites && v.Status != models.VariantPending {
		return errors.New("db unavailable")
	}
	return s.MemoryStore.UpsertVariant(ctx, v)
}

type harness struct {
	store     *repository.MemoryStore
	events    *recordingEvents
	content   *ContentService
	processor *VariantProcessor
	publisher *PublishOrchestrator
	tc        *stubTranscoder
	adapters  map[models.Platform]*stubAdapter
	userID    uuid.UUID
}

func newHarness() *harness {
	store := repository.NewMemoryStore()
	events := newRecordingEvents()
	tc := &stubTranscoder{fail: map[models.Platform]error{}, block: map[models.Platform]bool{}}

	adapters := make(map[models.Platform]*stubAdapter)
	var list []PlatformAdapter
	for _, p := range models.AllPlatforms {
		a := &stubAdapter{platform: p}
		adapters[p] = a
		list = append(list, a)
	}

	return &harness{
		store:     store,
		events:    events,
		content:   NewContentService(store, events),
		processor: NewVariantProcessor(store, tc, nil, models.DefaultPlatformSpecs(), events, time.Second),
		publisher: NewPublishOrchestrator(store, list, staticURLs{}, events, time.Second),
		tc:        tc,
		adapters:  adapters,
		userID:    uuid.New(),
	}
}

func (h *harness) upload(platforms ...string) *models.ContentItem {
	item, err := h.content.CreateContentItem(context.Background(), h.userID, NewContentItem{
		Title:          "My clip",
		Platforms:      platforms,
		SourceLocation: "uploads/source.mp4",
	})
	if err != nil {
		panic(err)
	}
	return item
}

// ready uploads and processes an item so every listed platform has a variant.
func (h *harness) ready(platforms ...string) *models.ContentItem {
	item := h.upload(platforms...)
	if _, err := h.processor.Process(context.Background(), h.userID, item.ID); err != nil {
		panic(err)
	}
	return item
}
