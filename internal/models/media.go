package models

import (
	"time"

	"github.com/google/uuid"
)

// TranscodeRequest asks for one platform rendition of a source file.
type TranscodeRequest struct {
	ContentID  uuid.UUID
	SourcePath string
	Spec       PlatformSpec
}

// TranscodeResult is the measured output of a successful transcode.
type TranscodeResult struct {
	MediaLocation     string
	ThumbnailLocation string
	Width             int
	Height            int
	DurationSeconds   float64
	SizeBytes         int64
	Format            string
}

// PostRequest is what a platform adapter needs to publish one variant.
type PostRequest struct {
	UserID            uuid.UUID
	ContentID         uuid.UUID
	MediaLocation     string
	MediaURL          string
	ThumbnailLocation string
	Title             string
	Description       string
	Caption           string
	Hashtags          []string
	DurationSeconds   float64
	SizeBytes         int64
}

// PostReceipt identifies a post created on a platform.
type PostReceipt struct {
	PostID   string
	PostURL  string
	PostedAt time.Time
}

// PlatformAccount is the connection state of one platform for a user.
type PlatformAccount struct {
	Platform    Platform   `json:"platform"`
	Connected   bool       `json:"connected"`
	AccountID   string     `json:"account_id,omitempty"`
	Username    string     `json:"username,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Configured  bool       `json:"configured"`
}
