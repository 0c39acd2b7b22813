package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

// ContentStore is the persistence surface of the content workflow.
// Implementations return pgx.ErrNoRows for a missing item.
type ContentStore interface {
	CreateContent(ctx context.Context, c *models.ContentItem) error
	GetContent(ctx context.Context, id uuid.UUID) (*models.ContentItem, error)
	ListContent(ctx context.Context, userID uuid.UUID, status *models.ContentStatus, limit, offset int) ([]*models.ContentItem, int, error)
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to models.ContentStatus, errMsg *string) (bool, error)
	BeginPublish(ctx context.Context, id uuid.UUID) (bool, error)
	EndPublish(ctx context.Context, id uuid.UUID, status models.ContentStatus) error
	ReleasePublish(ctx context.Context, id uuid.UUID) error
	UpdateCaption(ctx context.Context, id uuid.UUID, caption string, hashtags []string) error

	UpsertVariant(ctx context.Context, v *models.VideoVariant) error
	ListVariants(ctx context.Context, contentID uuid.UUID) ([]models.VideoVariant, error)

	InsertPublishResult(ctx context.Context, r *models.PublishResult) error
	ListPublishResults(ctx context.Context, contentID uuid.UUID) ([]models.PublishResult, error)
}

// EventPublisher fans status changes out to websocket and long-wait clients.
type EventPublisher interface {
	Publish(ctx context.Context, userID, contentID uuid.UUID, msg models.WSMessage)
	SetProgress(ctx context.Context, contentID uuid.UUID, progress int)
	Progress(ctx context.Context, contentID uuid.UUID) (int, bool)
}

type NewContentItem struct {
	// ID may be preallocated so the source can be stored under it first.
	ID             uuid.UUID
	Title          string
	Description    *string
	Caption        *string
	Hashtags       []string
	Platforms      []string
	SourceLocation string
}

type ContentService struct {
	store  ContentStore
	events EventPublisher
	log    *logrus.Entry
}

func NewContentService(store ContentStore, events EventPublisher) *ContentService {
	return &ContentService{store: store, events: events, log: logger.For("content")}
}

// ParsePlatforms validates and de-duplicates requested platform names,
// preserving first-seen order.
func ParsePlatforms(raw []string) ([]models.Platform, error) {
	var names []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	if len(names) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"platforms": "at least one platform is required"}}
	}

	seen := make(map[models.Platform]bool, len(names))
	var out []models.Platform
	var unknown []string
	for _, name := range names {
		p, ok := models.ParsePlatform(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{Fields: map[string]string{
			"platforms": "unsupported platform(s): " + strings.Join(unknown, ", "),
		}}
	}
	return out, nil
}

func (s *ContentService) CreateContentItem(ctx context.Context, userID uuid.UUID, in NewContentItem) (*models.ContentItem, error) {
	fields := map[string]string{}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		fields["title"] = "title is required"
	}
	platforms, err := ParsePlatforms(in.Platforms)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			for k, v := range ve.Fields {
				fields[k] = v
			}
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	item := &models.ContentItem{
		ID:             in.ID,
		UserID:         userID,
		Title:          title,
		Description:    in.Description,
		Caption:        in.Caption,
		Hashtags:       normalizeHashtags(in.Hashtags),
		Platforms:      platforms,
		SourceLocation: in.SourceLocation,
		Status:         models.StatusUploaded,
	}
	if err := s.store.CreateContent(ctx, item); err != nil {
		return nil, fmt.Errorf("create content item: %w", err)
	}

	s.log.WithFields(logrus.Fields{"content_id": item.ID, "platforms": platforms}).Info("content uploaded")
	return item, nil
}

// loadOwned fetches the bare item and hides items owned by someone else.
func loadOwned(ctx context.Context, store ContentStore, userID, contentID uuid.UUID) (*models.ContentItem, error) {
	item, err := store.GetContent(ctx, contentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Message: "Content not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", contentID, err)
	}
	if userID != uuid.Nil && item.UserID != userID {
		return nil, &NotFoundError{Message: "Content not found"}
	}
	return item, nil
}

// loadFull attaches variants and publish results to item.
func loadFull(ctx context.Context, store ContentStore, item *models.ContentItem) error {
	variants, err := store.ListVariants(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("list variants: %w", err)
	}
	results, err := store.ListPublishResults(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("list publish results: %w", err)
	}
	item.Variants = variants
	item.PublishResults = results
	return nil
}

// GetContentItem returns the item with its variants and publish history.
// A nil userID skips the ownership check (internal callers).
func (s *ContentService) GetContentItem(ctx context.Context, userID, contentID uuid.UUID) (*models.ContentItem, error) {
	item, err := loadOwned(ctx, s.store, userID, contentID)
	if err != nil {
		return nil, err
	}
	if err := loadFull(ctx, s.store, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *ContentService) ListContentItems(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*models.ContentItem, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var filter *models.ContentStatus
	if status != "" {
		st := models.ContentStatus(status)
		if !st.IsValid() {
			return nil, 0, &ValidationError{Fields: map[string]string{"status": "unknown status " + status}}
		}
		filter = &st
	}
	items, total, err := s.store.ListContent(ctx, userID, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list content: %w", err)
	}
	if items == nil {
		items = []*models.ContentItem{}
	}
	return items, total, nil
}

// RecordVariant upserts the (content, platform) variant. It never changes
// the item's status.
func (s *ContentService) RecordVariant(ctx context.Context, contentID uuid.UUID, platform models.Platform, v models.VideoVariant) (*models.VideoVariant, error) {
	if _, ok := models.ParsePlatform(string(platform)); !ok {
		return nil, &ValidationError{Fields: map[string]string{"platform": "unsupported platform " + string(platform)}}
	}
	v.ContentID = contentID
	v.Platform = platform
	if err := s.store.UpsertVariant(ctx, &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Content not found"}
		}
		return nil, fmt.Errorf("record variant %s/%s: %w", contentID, platform, err)
	}
	return &v, nil
}

// RecordPublishResult appends one publish attempt.
func (s *ContentService) RecordPublishResult(ctx context.Context, contentID uuid.UUID, platform models.Platform, r models.PublishResult) (*models.PublishResult, error) {
	if r.Outcome != models.OutcomeSucceeded && r.Outcome != models.OutcomeFailed {
		return nil, &ValidationError{Fields: map[string]string{"outcome": "must be succeeded or failed"}}
	}
	r.ID = uuid.Nil
	r.ContentID = contentID
	r.Platform = platform
	if err := s.store.InsertPublishResult(ctx, &r); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Content not found"}
		}
		return nil, fmt.Errorf("record publish result %s/%s: %w", contentID, platform, err)
	}
	return &r, nil
}

// UpdateStatus applies one lifecycle transition. Moves the table does not
// allow fail with InvalidTransitionError and leave the status unchanged.
func (s *ContentService) UpdateStatus(ctx context.Context, contentID uuid.UUID, to models.ContentStatus) error {
	return transition(ctx, s.store, contentID, to, nil)
}

// MarkFailed moves the item to failed with a reason.
func (s *ContentService) MarkFailed(ctx context.Context, contentID uuid.UUID, reason string) error {
	return transition(ctx, s.store, contentID, models.StatusFailed, &reason)
}

func transition(ctx context.Context, store ContentStore, contentID uuid.UUID, to models.ContentStatus, errMsg *string) error {
	for attempt := 0; attempt < 3; attempt++ {
		item, err := store.GetContent(ctx, contentID)
		if errors.Is(err, pgx.ErrNoRows) {
			return &NotFoundError{Message: "Content not found"}
		}
		if err != nil {
			return fmt.Errorf("load content %s: %w", contentID, err)
		}
		if !models.CanTransition(item.Status, to) {
			return &InvalidTransitionError{From: item.Status, To: to}
		}
		ok, err := store.CompareAndSetStatus(ctx, contentID, item.Status, to, errMsg)
		if err != nil {
			return fmt.Errorf("update status %s: %w", contentID, err)
		}
		if ok {
			return nil
		}
	}
	return &InvalidStateError{Message: "content status changed concurrently, retry the request"}
}

func (s *ContentService) UpdateCaption(ctx context.Context, userID, contentID uuid.UUID, caption string, hashtags []string) (*models.ContentItem, error) {
	item, err := loadOwned(ctx, s.store, userID, contentID)
	if err != nil {
		return nil, err
	}
	if item.Status == models.StatusFailed {
		return nil, &InvalidStateError{Message: "cannot edit the caption of failed content", Status: item.Status}
	}
	tags := normalizeHashtags(hashtags)
	if err := s.store.UpdateCaption(ctx, contentID, caption, tags); err != nil {
		return nil, fmt.Errorf("update caption: %w", err)
	}
	item.Caption = &caption
	item.Hashtags = tags
	return item, nil
}

// Status builds the lightweight status view used by polling and long-wait clients.
func (s *ContentService) Status(ctx context.Context, userID, contentID uuid.UUID) (*models.ContentStatusView, error) {
	item, err := s.GetContentItem(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}

	view := &models.ContentStatusView{
		ContentID:    item.ID,
		Status:       item.Status,
		Progress:     item.Status.Progress(),
		Publishing:   item.Publishing,
		ErrorMessage: item.ErrorMessage,
		Platforms:    make(map[models.Platform]models.PlatformRow, len(item.Platforms)),
	}
	if item.Status == models.StatusProcessing && s.events != nil {
		if p, ok := s.events.Progress(ctx, item.ID); ok {
			view.Progress = p
		}
	}
	for _, p := range item.Platforms {
		view.Platforms[p] = models.PlatformRow{}
	}
	for _, v := range item.Variants {
		row := view.Platforms[v.Platform]
		row.VariantStatus = v.Status
		row.VariantError = v.FailureReason
		view.Platforms[v.Platform] = row
	}
	// results are in attempt order, so the last write wins
	for _, r := range item.PublishResults {
		row := view.Platforms[r.Platform]
		row.LastOutcome = r.Outcome
		row.LastError = r.FailureReason
		view.Platforms[r.Platform] = row
	}
	return view, nil
}

func normalizeHashtags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(t), "#"))
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	return out
}
