package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobTypeVariantProcessing = "variant-processing"
	JobTypeContentPublishing = "content-publishing"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

type Job struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Type         string          `json:"type"` // "variant-processing" | "content-publishing"
	ReferenceID  uuid.UUID       `json:"reference_id"`
	ConfigJSON   json.RawMessage `json:"config"`
	Status       string          `json:"status"` // "pending" | "processing" | "completed" | "failed"
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// PublishJobConfig is the ConfigJSON payload of a content-publishing job.
type PublishJobConfig struct {
	Platforms       []Platform `json:"platforms"`
	CaptionOverride *string    `json:"caption_override,omitempty"`
	ScheduleID      *uuid.UUID `json:"schedule_id,omitempty"`
	// Prepared is set when the enqueuing request already holds the publish guard.
	Prepared bool `json:"prepared"`
}

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	EventStatusUpdate = "status_update"
	EventProgress     = "progress"
	EventCompleted    = "completed"
	EventError        = "error"
)

type ProgressEvent struct {
	JobID     uuid.UUID     `json:"job_id,omitempty"`
	ContentID uuid.UUID     `json:"content_id"`
	Platform  Platform      `json:"platform,omitempty"`
	Stage     string        `json:"stage"`
	Progress  int           `json:"progress"`
	Status    ContentStatus `json:"status"`
}

type CompletedEvent struct {
	JobID      uuid.UUID     `json:"job_id"`
	ContentID  uuid.UUID     `json:"content_id"`
	ResultType string        `json:"result_type"`
	Status     ContentStatus `json:"status"`
}

type ErrorEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	ContentID    uuid.UUID `json:"content_id"`
	ErrorCode    string    `json:"error_code"`
	ErrorMessage string    `json:"error_message"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
