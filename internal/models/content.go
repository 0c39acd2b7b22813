package models

import (
	"time"

	"github.com/google/uuid"
)

type ContentStatus string

const (
	StatusUploaded           ContentStatus = "uploaded"
	StatusProcessing         ContentStatus = "processing"
	StatusReady              ContentStatus = "ready"
	StatusPublished          ContentStatus = "published"
	StatusPartiallyPublished ContentStatus = "partially_published"
	StatusFailed             ContentStatus = "failed"
)

type VariantStatus string

const (
	VariantPending   VariantStatus = "pending"
	VariantSucceeded VariantStatus = "succeeded"
	VariantFailed    VariantStatus = "failed"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// ContentItem is one uploaded video and its publishing lifecycle record.
type ContentItem struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Title          string          `json:"title"`
	Description    *string         `json:"description"`
	Caption        *string         `json:"caption"`
	Hashtags       []string        `json:"hashtags"`
	Platforms      []Platform      `json:"platforms"`
	SourceLocation string          `json:"source_location"`
	Status         ContentStatus   `json:"status"`
	Publishing     bool            `json:"publishing"`
	ErrorMessage   *string         `json:"error_message"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Variants       []VideoVariant  `json:"variants,omitempty"`
	PublishResults []PublishResult `json:"publish_results,omitempty"`
}

// HasPlatform reports whether p was requested at upload time.
func (c *ContentItem) HasPlatform(p Platform) bool {
	for _, requested := range c.Platforms {
		if requested == p {
			return true
		}
	}
	return false
}

// SucceededVariant returns the successful rendition for p, if any.
func (c *ContentItem) SucceededVariant(p Platform) (*VideoVariant, bool) {
	for i := range c.Variants {
		if c.Variants[i].Platform == p && c.Variants[i].Status == VariantSucceeded {
			return &c.Variants[i], true
		}
	}
	return nil, false
}

// VideoVariant is one transcoded rendition, unique per (content, platform).
type VideoVariant struct {
	ID                uuid.UUID     `json:"id"`
	ContentID         uuid.UUID     `json:"content_id"`
	Platform          Platform      `json:"platform"`
	MediaLocation     string        `json:"media_location"`
	ThumbnailLocation string        `json:"thumbnail_location"`
	Width             int           `json:"width"`
	Height            int           `json:"height"`
	DurationSeconds   float64       `json:"duration_seconds"`
	SizeBytes         int64         `json:"size_bytes"`
	Format            string        `json:"format"`
	Status            VariantStatus `json:"status"`
	FailureReason     *string       `json:"failure_reason"`
	ValidationIssues  []string      `json:"validation_issues"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// PublishResult is the immutable outcome of one publish attempt to one platform.
type PublishResult struct {
	ID             uuid.UUID `json:"id"`
	ContentID      uuid.UUID `json:"content_id"`
	Platform       Platform  `json:"platform"`
	Outcome        Outcome   `json:"outcome"`
	PlatformPostID *string   `json:"platform_post_id"`
	PostURL        *string   `json:"post_url"`
	FailureReason  *string   `json:"failure_reason"`
	AttemptedAt    time.Time `json:"attempted_at"`
}

// ScheduledPublish is a deferred publish request for a ready content item.
type ScheduledPublish struct {
	ID              uuid.UUID  `json:"id"`
	ContentID       uuid.UUID  `json:"content_id"`
	UserID          uuid.UUID  `json:"user_id"`
	Platforms       []Platform `json:"platforms"`
	CaptionOverride *string    `json:"caption_override,omitempty"`
	RunAt           time.Time  `json:"run_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ContentStatusView is the payload of the status query endpoint.
type ContentStatusView struct {
	ContentID    uuid.UUID                `json:"content_id"`
	Status       ContentStatus            `json:"status"`
	Progress     int                      `json:"progress"`
	Publishing   bool                     `json:"publishing"`
	ErrorMessage *string                  `json:"error_message,omitempty"`
	Platforms    map[Platform]PlatformRow `json:"platforms"`
}

// PlatformRow summarises one platform's variant and latest publish attempt.
type PlatformRow struct {
	VariantStatus VariantStatus `json:"variant_status,omitempty"`
	VariantError  *string       `json:"variant_error,omitempty"`
	LastOutcome   Outcome       `json:"last_outcome,omitempty"`
	LastError     *string       `json:"last_error,omitempty"`
}
