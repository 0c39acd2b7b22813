package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capora-backend/internal/models"
)

func results(t *testing.T, h *harness, item *models.ContentItem) []models.PublishResult {
	t.Helper()
	got, err := h.content.GetContentItem(context.Background(), h.userID, item.ID)
	require.NoError(t, err)
	return got.PublishResults
}

func TestPublish_MissingVariantWritesNothing(t *testing.T) {
	h := newHarness()
	h.tc.fail[models.PlatformInstagram] = errors.New("bad input")
	item := h.ready("tiktok", "instagram")

	_, err := h.publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"instagram", "twitter", "tiktok"}})
	var mv *MissingVariantError
	require.True(t, errors.As(err, &mv))
	assert.ElementsMatch(t, []models.Platform{models.PlatformInstagram, models.PlatformTwitter}, mv.Platforms)

	assert.Empty(t, results(t, h, item))
	assert.Zero(t, h.adapters[models.PlatformTikTok].callCount(), "no adapter may be called")

	got, _ := h.store.GetContent(context.Background(), item.ID)
	assert.Equal(t, models.StatusReady, got.Status)
	assert.False(t, got.Publishing)
}

func TestPublish_StateCheckedFirst(t *testing.T) {
	h := newHarness()
	item := h.upload("tiktok")

	_, err := h.publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"myspace"}})
	var se *InvalidStateError
	require.True(t, errors.As(err, &se), "state must be checked before targets, got %v", err)
	assert.Equal(t, models.StatusUploaded, se.Status)
}

func TestPublish_EmptyOrUnknownTargets(t *testing.T) {
	h := newHarness()
	item := h.ready("tiktok")

	for _, targets := range [][]string{nil, {"myspace"}} {
		_, err := h.publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: targets})
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "targets %v", targets)
	}
	assert.Empty(t, results(t, h, item))
}

func TestPublish_AllSucceedIsPublished(t *testing.T) {
	h := newHarness()
	item := h.ready("tiktok", "youtube_shorts")

	outcome, err := h.publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "youtube_shorts"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, outcome.Status)

	rows := results(t, h, item)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, models.OutcomeSucceeded, r.Outcome)
		require.NotNil(t, r.PlatformPostID)
	}

	got, _ := h.store.GetContent(context.Background(), item.ID)
	assert.Equal(t, models.StatusPublished, got.Status)
	assert.False(t, got.Publishing)
}

func TestPublish_PartialThenRetryToPublished(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := h.ready("tiktok", "instagram")
	h.adapters[models.PlatformInstagram].setErr(errors.New("rate limited"))

	outcome, err := h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "instagram"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyPublished, outcome.Status)

	first := results(t, h, item)
	require.Len(t, first, 2)
	var tiktokRow models.PublishResult
	for _, r := range first {
		if r.Platform == models.PlatformTikTok {
			tiktokRow = r
		}
	}

	h.adapters[models.PlatformInstagram].setErr(nil)
	outcome, err = h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"instagram"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, outcome.Status)

	after := results(t, h, item)
	require.Len(t, after, 3, "retry appends one row")
	assert.Equal(t, tiktokRow, after[indexOf(after, tiktokRow.ID)], "earlier rows are untouched")
	assert.Equal(t, 1, h.adapters[models.PlatformTikTok].callCount())
}

func indexOf(rows []models.PublishResult, id uuid.UUID) int {
	for i, r := range rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func TestPublish_AllFailLeavesStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := h.ready("tiktok", "twitter")
	h.adapters[models.PlatformTikTok].setErr(errors.New("down"))
	h.adapters[models.PlatformTwitter].setErr(errors.New("down"))

	outcome, err := h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "twitter"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, outcome.Status)
	assert.Len(t, results(t, h, item), 2)

	// and from partially_published it stays partially_published
	h.adapters[models.PlatformTikTok].setErr(nil)
	_, err = h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "twitter"}})
	require.NoError(t, err)
	outcome, err = h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"twitter"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyPublished, outcome.Status)
}

func TestPublish_TimeoutRecorded(t *testing.T) {
	h := newHarness()
	h.publisher.timeout = 20 * time.Millisecond
	item := h.ready("tiktok", "facebook")
	h.adapters[models.PlatformFacebook].block = true

	outcome, err := h.publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "facebook"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyPublished, outcome.Status)

	for _, r := range results(t, h, item) {
		if r.Platform == models.PlatformFacebook {
			require.NotNil(t, r.FailureReason)
			assert.Equal(t, "timeout", *r.FailureReason)
		}
	}
}

func TestPublish_CaptionPrecedence(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := h.ready("tiktok")

	_, err := h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok"}})
	require.NoError(t, err)
	assert.Equal(t, "My clip", h.adapters[models.PlatformTikTok].calls[0].Caption)
	assert.Equal(t, "https://cdn.example.com/media/"+item.ID.String()+"/tiktok.mp4", h.adapters[models.PlatformTikTok].calls[0].MediaURL)
}

func TestPublish_CaptionOverrideWins(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := h.ready("tiktok", "twitter")
	_, err := h.content.UpdateCaption(ctx, h.userID, item.ID, "stored caption", []string{"tag"})
	require.NoError(t, err)
	h.adapters[models.PlatformTwitter].setErr(errors.New("down"))

	_, err = h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "twitter"}})
	require.NoError(t, err)
	assert.Equal(t, "stored caption", h.adapters[models.PlatformTikTok].calls[0].Caption)
	assert.Equal(t, []string{"tag"}, h.adapters[models.PlatformTikTok].calls[0].Hashtags)

	override := "override"
	h.adapters[models.PlatformTwitter].setErr(nil)
	_, err = h.publisher.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"twitter"}, CaptionOverride: &override})
	require.NoError(t, err)
	calls := h.adapters[models.PlatformTwitter].calls
	assert.Equal(t, "override", calls[len(calls)-1].Caption)
}

func TestPublish_MissingAdapterIsPlatformFailure(t *testing.T) {
	h := newHarness()
	item := h.ready("tiktok", "twitter")
	p := NewPublishOrchestrator(h.store, []PlatformAdapter{h.adapters[models.PlatformTikTok]}, nil, nil, time.Second)

	outcome, err := p.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "twitter"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartiallyPublished, outcome.Status)
}

func TestPublish_ConcurrentCallsSingleWinner(t *testing.T) {
	h := newHarness()
	item := h.ready("tiktok")
	h.publisher.timeout = 300 * time.Millisecond
	h.adapters[models.PlatformTikTok].block = true

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"tiktok"}})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var se *InvalidStateError
		assert.True(t, errors.As(err, &se), "loser must get InvalidStateError, got %v", err)
	}
	assert.Equal(t, 1, wins)
	assert.Len(t, results(t, h, item), 1)
}

func TestPrepareThenRelease(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	item := h.ready("tiktok")

	_, err := h.publisher.Prepare(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok"}})
	require.NoError(t, err)

	_, err = h.publisher.Prepare(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok"}})
	var se *InvalidStateError
	require.True(t, errors.As(err, &se))

	h.publisher.Release(ctx, item.ID)
	_, err = h.publisher.Prepare(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok"}})
	assert.NoError(t, err)
}

func TestPublish_ResultWriteFailureAfterDispatch(t *testing.T) {
	h := newHarness()
	item := h.ready("tiktok", "facebook")
	h.adapters[models.PlatformFacebook].setErr(errors.New("rejected"))

	store := &failingStore{MemoryStore: h.store, failResultWrites: true}
	var list []PlatformAdapter
	for _, a := range h.adapters {
		list = append(list, a)
	}
	publisher := NewPublishOrchestrator(store, list, staticURLs{}, h.events, time.Second)

	_, err := publisher.Publish(context.Background(), h.userID, item.ID, PublishInput{Platforms: []string{"tiktok", "facebook"}})
	var dispatched *DispatchedError
	require.True(t, errors.As(err, &dispatched), "got %v", err)
	assert.Equal(t, 1, h.adapters[models.PlatformTikTok].callCount())

	got, _ := h.store.GetContent(context.Background(), item.ID)
	assert.Equal(t, models.StatusPartiallyPublished, got.Status, "status follows what the platforms accepted")
	assert.False(t, got.Publishing)
}

// cancellingAdapter cancels the caller's context from inside the post.
type cancellingAdapter struct {
	cancel context.CancelFunc
}

func (a *cancellingAdapter) Platform() models.Platform { return models.PlatformTikTok }

func (a *cancellingAdapter) Publish(ctx context.Context, _ models.PostRequest) (*models.PostReceipt, error) {
	a.cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &models.PostReceipt{PostID: "tt-1", PostedAt: time.Now()}, nil
}

func TestPublish_CallerCancelDoesNotAbortRun(t *testing.T) {
	h := newHarness()
	item := h.ready("tiktok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPublishOrchestrator(h.store, []PlatformAdapter{&cancellingAdapter{cancel: cancel}}, nil, nil, time.Second)

	outcome, err := p.Publish(ctx, h.userID, item.ID, PublishInput{Platforms: []string{"tiktok"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPublished, outcome.Status)

	rows := results(t, h, item)
	require.Len(t, rows, 1)
	assert.Equal(t, models.OutcomeSucceeded, rows[0].Outcome)
}
