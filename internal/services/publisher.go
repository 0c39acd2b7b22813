package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

// PlatformAdapter posts one variant to one platform.
type PlatformAdapter interface {
	Platform() models.Platform
	Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error)
}

// MediaURLResolver turns a stored media location into a URL platforms can pull.
type MediaURLResolver interface {
	PublicURL(location string) string
}

type PublishInput struct {
	Platforms       []string
	CaptionOverride *string
}

type PublishOutcome struct {
	ContentID uuid.UUID            `json:"content_id"`
	Status    models.ContentStatus `json:"status"`
	Results   []PlatformOutcome    `json:"results"`
}

type PublishOrchestrator struct {
	store    ContentStore
	adapters map[models.Platform]PlatformAdapter
	urls     MediaURLResolver
	events   EventPublisher
	timeout  time.Duration
	log      *logrus.Entry
}

func NewPublishOrchestrator(store ContentStore, adapters []PlatformAdapter, urls MediaURLResolver, events EventPublisher, timeout time.Duration) *PublishOrchestrator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	byPlatform := make(map[models.Platform]PlatformAdapter, len(adapters))
	for _, a := range adapters {
		byPlatform[a.Platform()] = a
	}
	return &PublishOrchestrator{
		store:    store,
		adapters: byPlatform,
		urls:     urls,
		events:   events,
		timeout:  timeout,
		log:      logger.For("publisher"),
	}
}

// Validate checks that contentID can be published to the requested
// platforms right now, without side effects. State is checked before
// targets, and targets before variants.
func (o *PublishOrchestrator) Validate(ctx context.Context, userID, contentID uuid.UUID, in PublishInput) (*models.ContentItem, []models.Platform, error) {
	item, err := loadOwned(ctx, o.store, userID, contentID)
	if err != nil {
		return nil, nil, err
	}
	if !models.IsPublishable(item.Status) {
		return nil, nil, &InvalidStateError{
			Message: fmt.Sprintf("content must be processed and ready before publishing (current status: %s)", item.Status),
			Status:  item.Status,
		}
	}

	targets, err := ParsePlatforms(in.Platforms)
	if err != nil {
		return nil, nil, err
	}

	if err := loadFull(ctx, o.store, item); err != nil {
		return nil, nil, err
	}
	var missing []models.Platform
	for _, p := range targets {
		if _, ok := item.SucceededVariant(p); !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &MissingVariantError{Platforms: missing}
	}
	return item, targets, nil
}

// Prepare validates and takes the publish guard. The caller must follow
// with Run or Release.
func (o *PublishOrchestrator) Prepare(ctx context.Context, userID, contentID uuid.UUID, in PublishInput) ([]models.Platform, error) {
	_, targets, err := o.Validate(ctx, userID, contentID, in)
	if err != nil {
		return nil, err
	}
	ok, err := o.store.BeginPublish(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("begin publish %s: %w", contentID, err)
	}
	if !ok {
		return nil, &InvalidStateError{Message: "a publish is already in progress for this content"}
	}
	return targets, nil
}

// Release drops the publish guard without changing status.
func (o *PublishOrchestrator) Release(ctx context.Context, contentID uuid.UUID) {
	if err := o.store.ReleasePublish(ctx, contentID); err != nil {
		o.log.WithError(err).WithField("content_id", contentID).Error("failed to release publish guard")
	}
}

// Publish validates, takes the guard and runs the publish synchronously.
// The run itself does not follow ctx cancellation; each platform call is
// still bounded by the publish timeout.
func (o *PublishOrchestrator) Publish(ctx context.Context, userID, contentID uuid.UUID, in PublishInput) (*PublishOutcome, error) {
	targets, err := o.Prepare(ctx, userID, contentID, in)
	if err != nil {
		return nil, err
	}
	return o.Run(context.WithoutCancel(ctx), contentID, targets, in.CaptionOverride)
}

// Run fans out to the target platforms while the caller holds the publish
// guard, appends one result per attempt and settles the aggregate status.
// The guard is always released.
func (o *PublishOrchestrator) Run(ctx context.Context, contentID uuid.UUID, targets []models.Platform, captionOverride *string) (*PublishOutcome, error) {
	settled := false
	defer func() {
		if !settled {
			o.Release(context.WithoutCancel(ctx), contentID)
		}
	}()

	item, err := loadOwned(ctx, o.store, uuid.Nil, contentID)
	if err != nil {
		return nil, err
	}
	if err := loadFull(ctx, o.store, item); err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"platforms": "at least one platform is required"}}
	}
	log := o.log.WithField("content_id", contentID)

	caption := item.Title
	if item.Caption != nil && strings.TrimSpace(*item.Caption) != "" {
		caption = *item.Caption
	}
	if captionOverride != nil && strings.TrimSpace(*captionOverride) != "" {
		caption = *captionOverride
	}
	description := ""
	if item.Description != nil {
		description = *item.Description
	}

	results := make([]PlatformOutcome, len(targets))
	recordErrs := make([]error, len(targets))
	var succeeded atomic.Int32
	// rows must land even if the caller goes away once a post is out
	recordCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(len(targets))
	for i, platform := range targets {
		g.Go(func() error {
			req := models.PostRequest{
				UserID:      item.UserID,
				ContentID:   item.ID,
				Title:       item.Title,
				Description: description,
				Caption:     caption,
				Hashtags:    item.Hashtags,
			}
			if v, ok := item.SucceededVariant(platform); ok {
				req.MediaLocation = v.MediaLocation
				req.ThumbnailLocation = v.ThumbnailLocation
				req.DurationSeconds = v.DurationSeconds
				req.SizeBytes = v.SizeBytes
				if o.urls != nil {
					req.MediaURL = o.urls.PublicURL(v.MediaLocation)
				}
			}
			row := o.publishOne(ctx, platform, req)
			if err := o.store.InsertPublishResult(recordCtx, row); err != nil {
				recordErrs[i] = fmt.Errorf("record publish result %s: %w", platform, err)
			}
			if row.Outcome == models.OutcomeSucceeded {
				succeeded.Add(1)
			}
			results[i] = PlatformOutcome{
				Platform: platform,
				Status:   string(row.Outcome),
				Reason:   row.FailureReason,
				PostID:   row.PlatformPostID,
				PostURL:  row.PostURL,
			}
			log.WithFields(logrus.Fields{"platform": platform, "outcome": row.Outcome}).Info("publish attempt finished")
			return nil
		})
	}
	_ = g.Wait()

	posted := int(succeeded.Load())

	final := item.Status
	switch {
	case posted == len(targets):
		final = models.StatusPublished
	case posted > 0:
		final = models.StatusPartiallyPublished
	}
	if !models.CanTransition(item.Status, final) {
		return nil, &InvalidTransitionError{From: item.Status, To: final}
	}
	if err := o.store.EndPublish(recordCtx, contentID, final); err != nil {
		return nil, &DispatchedError{Err: fmt.Errorf("settle publish status: %w", err)}
	}
	settled = true

	item.Status = final
	if o.events != nil {
		emitStatus(recordCtx, o.events, item)
	}
	if err := errors.Join(recordErrs...); err != nil {
		log.WithError(err).Error("publish dispatched but results not recorded")
		return nil, &DispatchedError{Err: err}
	}
	log.WithFields(logrus.Fields{"status": final, "succeeded": posted, "total": len(targets)}).Info("publish finished")

	return &PublishOutcome{ContentID: contentID, Status: final, Results: results}, nil
}

func (o *PublishOrchestrator) publishOne(ctx context.Context, platform models.Platform, req models.PostRequest) *models.PublishResult {
	row := &models.PublishResult{ContentID: req.ContentID, Platform: platform}
	fail := func(reason string) *models.PublishResult {
		row.Outcome = models.OutcomeFailed
		row.FailureReason = &reason
		return row
	}

	adapter, ok := o.adapters[platform]
	if !ok {
		return fail("no publisher configured for " + string(platform))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	receipt, err := adapter.Publish(callCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return fail(reasonTimeout)
		}
		return fail(err.Error())
	}
	if receipt == nil {
		return fail("platform returned no post id")
	}

	row.Outcome = models.OutcomeSucceeded
	if receipt.PostID != "" {
		id := receipt.PostID
		row.PlatformPostID = &id
	}
	if receipt.PostURL != "" {
		u := receipt.PostURL
		row.PostURL = &u
	}
	return row
}
