package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/models"
)

// ClientSource hands out clients authenticated as a user's platform account.
type ClientSource interface {
	Client(ctx context.Context, userID uuid.UUID, platform models.Platform) (*http.Client, *Account, error)
}

// MediaOpener makes a stored media location available as a local file.
type MediaOpener interface {
	Open(ctx context.Context, location string) (path string, cleanup func(), err error)
}

// Endpoints are the API roots each adapter talks to.
type Endpoints struct {
	GraphURL         string
	TikTokURL        string
	YouTubeUploadURL string
	YouTubeAPIURL    string
	TwitterURL       string
	TwitterMediaURL  string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		GraphURL:         "https://graph.facebook.com/v19.0",
		TikTokURL:        "https://open.tiktokapis.com",
		YouTubeUploadURL: "https://www.googleapis.com/upload/youtube/v3/videos",
		YouTubeAPIURL:    "https://www.googleapis.com/youtube/v3",
		TwitterURL:       "https://api.twitter.com/2",
		TwitterMediaURL:  "https://upload.twitter.com/1.1/media/upload.json",
	}
}

// APIError is a non-2xx answer from a platform API.
type APIError struct {
	Platform   models.Platform
	Step       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed: status %d: %s", e.Platform, e.Step, e.StatusCode, e.Body)
}

type base struct {
	platform models.Platform
	clients  ClientSource
	retry    RetryConfig
	log      *logrus.Entry
}

func newBase(platform models.Platform, clients ClientSource, retry RetryConfig) base {
	return base{
		platform: platform,
		clients:  clients,
		retry:    retry,
		log:      logger.For("platforms").WithField("platform", platform),
	}
}

func (b base) Platform() models.Platform { return b.platform }

func (b base) connect(ctx context.Context, userID uuid.UUID) (*RetryClient, *Account, error) {
	client, acct, err := b.clients.Client(ctx, userID, b.platform)
	if err != nil {
		return nil, nil, err
	}
	return NewRetryClient(client, b.retry), acct, nil
}

// send executes req and decodes a 2xx JSON body into out.
func (b base) send(client *RetryClient, req *http.Request, step string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", b.platform, step, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", b.platform, step, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Platform: b.platform, Step: step, StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), 300)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: parse response: %w", b.platform, step, err)
	}
	return nil
}

func (b base) getJSON(ctx context.Context, client *RetryClient, endpoint, step string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return b.send(client, req, step, out)
}

func (b base) postJSON(ctx context.Context, client *RetryClient, endpoint, step string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", step, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	return b.send(client, req, step, out)
}

func (b base) postForm(ctx context.Context, client *RetryClient, endpoint, step string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.send(client, req, step, out)
}

// composeText joins the caption and hashtags and cuts the result to limit runes.
func composeText(caption string, hashtags []string, limit int) string {
	text := strings.TrimSpace(caption)
	var tags []string
	for _, h := range hashtags {
		h = strings.TrimPrefix(strings.TrimSpace(h), "#")
		if h == "" || strings.Contains(text, "#"+h) {
			continue
		}
		tags = append(tags, "#"+h)
	}
	if len(tags) > 0 {
		if text != "" {
			text += "\n\n"
		}
		text += strings.Join(tags, " ")
	}
	return truncate(text, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
