package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

const (
	reasonTimeout        = "timeout"
	aspectRatioTolerance = 0.1
	processingStartPct   = 10
)

// Transcoder renders one platform variant from a local source file.
type Transcoder interface {
	Transcode(ctx context.Context, req models.TranscodeRequest) (*models.TranscodeResult, error)
}

// MediaOpener materialises a stored media location as a local file.
type MediaOpener interface {
	Open(ctx context.Context, location string) (path string, cleanup func(), err error)
}

// PlatformOutcome is the per-platform line of a processing or publish run.
type PlatformOutcome struct {
	Platform models.Platform `json:"platform"`
	Status   string          `json:"status"`
	Reason   *string         `json:"reason,omitempty"`
	PostID   *string         `json:"post_id,omitempty"`
	PostURL  *string         `json:"post_url,omitempty"`
	Issues   []string        `json:"validation_issues,omitempty"`
}

type ProcessOutcome struct {
	ContentID uuid.UUID            `json:"content_id"`
	Status    models.ContentStatus `json:"status"`
	Platforms []PlatformOutcome    `json:"platforms"`
}

type VariantProcessor struct {
	store      ContentStore
	transcoder Transcoder
	media      MediaOpener
	specs      models.PlatformSpecs
	events     EventPublisher
	timeout    time.Duration
	log        *logrus.Entry
}

func NewVariantProcessor(store ContentStore, transcoder Transcoder, media MediaOpener, specs models.PlatformSpecs, events EventPublisher, timeout time.Duration) *VariantProcessor {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &VariantProcessor{
		store:      store,
		transcoder: transcoder,
		media:      media,
		specs:      specs,
		events:     events,
		timeout:    timeout,
		log:        logger.For("processor"),
	}
}

// Start claims an uploaded item for processing. Exactly one of several
// concurrent callers wins; the rest get InvalidStateError.
func (p *VariantProcessor) Start(ctx context.Context, userID, contentID uuid.UUID) (*models.ContentItem, error) {
	item, err := loadOwned(ctx, p.store, userID, contentID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.StatusUploaded {
		return nil, &InvalidStateError{
			Message: fmt.Sprintf("content must be uploaded before processing (current status: %s)", item.Status),
			Status:  item.Status,
		}
	}

	ok, err := p.store.CompareAndSetStatus(ctx, contentID, models.StatusUploaded, models.StatusProcessing, nil)
	if err != nil {
		return nil, fmt.Errorf("claim content %s: %w", contentID, err)
	}
	if !ok {
		return nil, &InvalidStateError{Message: "content is already being processed", Status: models.StatusProcessing}
	}

	item.Status = models.StatusProcessing
	p.emitProgress(ctx, item, "", "started", processingStartPct)
	return item, nil
}

// Process runs the whole processing step synchronously. Once started the
// run is detached from ctx cancellation, and an item whose run errors is
// failed so it never stays in processing without a job behind it.
func (p *VariantProcessor) Process(ctx context.Context, userID, contentID uuid.UUID) (*ProcessOutcome, error) {
	if _, err := p.Start(ctx, userID, contentID); err != nil {
		return nil, err
	}
	runCtx := context.WithoutCancel(ctx)
	out, err := p.Run(runCtx, contentID)
	if err != nil {
		var stateErr *InvalidStateError
		if !errors.As(err, &stateErr) {
			if ferr := p.Fail(runCtx, contentID, err.Error()); ferr != nil {
				p.log.WithError(ferr).WithField("content_id", contentID).Error("failed to mark content failed")
			}
		}
		return nil, err
	}
	return out, nil
}

// Run transcodes every requested platform of an item already in processing
// and settles its status. Per-platform failures are reported in the outcome.
// A non-nil error means a store write failed and the item is still
// processing, so the caller may retry Run.
func (p *VariantProcessor) Run(ctx context.Context, contentID uuid.UUID) (*ProcessOutcome, error) {
	item, err := loadOwned(ctx, p.store, uuid.Nil, contentID)
	if err != nil {
		return nil, err
	}
	if item.Status != models.StatusProcessing {
		return nil, &InvalidStateError{
			Message: fmt.Sprintf("content is not processing (current status: %s)", item.Status),
			Status:  item.Status,
		}
	}
	log := p.log.WithField("content_id", contentID)
	if len(item.Platforms) == 0 {
		if err := p.Fail(ctx, contentID, "no platforms requested"); err != nil {
			return nil, err
		}
		return &ProcessOutcome{ContentID: contentID, Status: models.StatusFailed, Platforms: []PlatformOutcome{}}, nil
	}

	sourcePath := item.SourceLocation
	if p.media != nil {
		path, cleanup, err := p.media.Open(ctx, item.SourceLocation)
		if err != nil {
			return nil, fmt.Errorf("open source media: %w", err)
		}
		defer cleanup()
		sourcePath = path
	}

	for _, platform := range item.Platforms {
		pending := &models.VideoVariant{ContentID: contentID, Platform: platform, Status: models.VariantPending}
		if err := p.store.UpsertVariant(ctx, pending); err != nil {
			return nil, fmt.Errorf("record pending variant %s: %w", platform, err)
		}
	}

	outcomes := make([]PlatformOutcome, len(item.Platforms))
	var (
		writeMu  sync.Mutex
		writeErr error
		done     atomic.Int32
	)
	total := len(item.Platforms)

	var g errgroup.Group
	g.SetLimit(total)
	for i, platform := range item.Platforms {
		g.Go(func() error {
			variant := p.processOne(ctx, contentID, platform, sourcePath)
			outcomes[i] = variantOutcome(variant)

			if err := p.store.UpsertVariant(ctx, variant); err != nil {
				writeMu.Lock()
				writeErr = errors.Join(writeErr, fmt.Errorf("record variant %s: %w", platform, err))
				writeMu.Unlock()
			}

			n := int(done.Add(1))
			p.emitProgress(ctx, item, platform, "variant_"+string(variant.Status), processingStartPct+(100-processingStartPct)*n/total)
			log.WithFields(logrus.Fields{"platform": platform, "status": variant.Status}).Info("variant processed")
			// platform failures are data; never abort siblings
			return nil
		})
	}
	_ = g.Wait()

	if writeErr != nil {
		return nil, writeErr
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.Status == string(models.VariantSucceeded) {
			succeeded++
		}
	}

	final := models.StatusReady
	var errMsg *string
	if succeeded == 0 {
		final = models.StatusFailed
		msg := "all platform variants failed"
		errMsg = &msg
	}
	ok, err := p.store.CompareAndSetStatus(ctx, contentID, models.StatusProcessing, final, errMsg)
	if err != nil {
		return nil, fmt.Errorf("settle status: %w", err)
	}
	if !ok {
		return nil, &InvalidStateError{Message: "content left processing while variants were rendered"}
	}

	item.Status = final
	p.emitStatus(ctx, item)
	log.WithFields(logrus.Fields{"status": final, "succeeded": succeeded, "total": total}).Info("processing finished")

	return &ProcessOutcome{ContentID: contentID, Status: final, Platforms: outcomes}, nil
}

// Fail moves an item stuck in uploaded or processing to failed. Used when
// the processing job gives up after its retries.
func (p *VariantProcessor) Fail(ctx context.Context, contentID uuid.UUID, reason string) error {
	for _, from := range []models.ContentStatus{models.StatusProcessing, models.StatusUploaded} {
		ok, err := p.store.CompareAndSetStatus(ctx, contentID, from, models.StatusFailed, &reason)
		if err != nil {
			return fmt.Errorf("fail content %s: %w", contentID, err)
		}
		if ok {
			item, err := p.store.GetContent(ctx, contentID)
			if err == nil {
				p.emitStatus(ctx, item)
			}
			return nil
		}
	}
	return nil
}

func (p *VariantProcessor) processOne(ctx context.Context, contentID uuid.UUID, platform models.Platform, sourcePath string) *models.VideoVariant {
	variant := &models.VideoVariant{ContentID: contentID, Platform: platform}

	spec, ok := p.specs.Lookup(platform)
	if !ok {
		return failVariant(variant, "no rendition spec for platform "+string(platform))
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.transcoder.Transcode(callCtx, models.TranscodeRequest{
		ContentID:  contentID,
		SourcePath: sourcePath,
		Spec:       spec,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return failVariant(variant, reasonTimeout)
		}
		return failVariant(variant, err.Error())
	}

	variant.MediaLocation = res.MediaLocation
	variant.ThumbnailLocation = res.ThumbnailLocation
	variant.Width = res.Width
	variant.Height = res.Height
	variant.DurationSeconds = res.DurationSeconds
	variant.SizeBytes = res.SizeBytes
	variant.Format = res.Format
	variant.Status = models.VariantSucceeded
	variant.ValidationIssues = ValidateVariant(spec, res)
	return variant
}

func failVariant(v *models.VideoVariant, reason string) *models.VideoVariant {
	v.Status = models.VariantFailed
	v.FailureReason = &reason
	return v
}

func variantOutcome(v *models.VideoVariant) PlatformOutcome {
	return PlatformOutcome{
		Platform: v.Platform,
		Status:   string(v.Status),
		Reason:   v.FailureReason,
		Issues:   v.ValidationIssues,
	}
}

// ValidateVariant lists the ways a rendition misses its platform limits.
// Issues are advisory; they never fail the variant.
func ValidateVariant(spec models.PlatformSpec, res *models.TranscodeResult) []string {
	issues := []string{}
	if res.Height > 0 && spec.Height > 0 {
		actual := float64(res.Width) / float64(res.Height)
		if math.Abs(actual-spec.TargetRatio()) > aspectRatioTolerance {
			issues = append(issues, fmt.Sprintf("aspect ratio %.2f differs from target %s", actual, spec.AspectRatio))
		}
	}
	if spec.MaxDurationSeconds > 0 && res.DurationSeconds > float64(spec.MaxDurationSeconds) {
		issues = append(issues, fmt.Sprintf("duration %.1fs exceeds limit of %ds", res.DurationSeconds, spec.MaxDurationSeconds))
	}
	if spec.MaxSizeBytes > 0 && res.SizeBytes > spec.MaxSizeBytes {
		issues = append(issues, fmt.Sprintf("file size %d bytes exceeds limit of %d bytes", res.SizeBytes, spec.MaxSizeBytes))
	}
	return issues
}

func (p *VariantProcessor) emitProgress(ctx context.Context, item *models.ContentItem, platform models.Platform, stage string, pct int) {
	if p.events == nil {
		return
	}
	p.events.SetProgress(ctx, item.ID, pct)
	p.events.Publish(ctx, item.UserID, item.ID, models.WSMessage{
		Type: models.EventProgress,
		Payload: models.ProgressEvent{
			ContentID: item.ID,
			Platform:  platform,
			Stage:     stage,
			Progress:  pct,
			Status:    models.StatusProcessing,
		},
	})
}

func (p *VariantProcessor) emitStatus(ctx context.Context, item *models.ContentItem) {
	if p.events == nil {
		return
	}
	emitStatus(ctx, p.events, item)
}

func emitStatus(ctx context.Context, events EventPublisher, item *models.ContentItem) {
	events.Publish(ctx, item.UserID, item.ID, models.WSMessage{
		Type: models.EventStatusUpdate,
		Payload: models.ProgressEvent{
			ContentID: item.ID,
			Stage:     "status_changed",
			Progress:  item.Status.Progress(),
			Status:    item.Status,
		},
	})
}
