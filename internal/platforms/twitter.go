package platforms

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"capora-backend/internal/models"
)

const tweetMax = 280

// Twitter posts a tweet, attaching the variant when a media upload
// endpoint is configured.
type Twitter struct {
	base
	media    MediaOpener
	apiURL   string
	mediaURL string
}

func NewTwitter(clients ClientSource, media MediaOpener, ep Endpoints, retry RetryConfig) *Twitter {
	return &Twitter{
		base:     newBase(models.PlatformTwitter, clients, retry),
		media:    media,
		apiURL:   strings.TrimRight(ep.TwitterURL, "/"),
		mediaURL: ep.TwitterMediaURL,
	}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

func (t *Twitter) Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error) {
	client, _, err := t.connect(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	payload := tweetRequest{Text: composeText(req.Caption, req.Hashtags, tweetMax)}
	if t.mediaURL != "" && t.media != nil && req.MediaLocation != "" {
		mediaID, err := t.uploadMedia(ctx, client, req.MediaLocation)
		if err != nil {
			return nil, err
		}
		payload.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := t.postJSON(ctx, client, t.apiURL+"/tweets", "tweet creation", payload, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("tweet creation returned no id")
	}
	return &models.PostReceipt{
		PostID:   out.Data.ID,
		PostURL:  "https://twitter.com/i/web/status/" + out.Data.ID,
		PostedAt: time.Now().UTC(),
	}, nil
}

func (t *Twitter) uploadMedia(ctx context.Context, client *RetryClient, location string) (string, error) {
	path, cleanup, err := t.media.Open(ctx, location)
	if err != nil {
		return "", fmt.Errorf("open variant: %w", err)
	}
	defer cleanup()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		_ = pw.CloseWithError(writeMediaForm(mw, path))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.mediaURL, pr)
	if err != nil {
		_ = pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := t.send(client, req, "media upload", &out); err != nil {
		return "", err
	}
	if out.MediaIDString == "" {
		return "", fmt.Errorf("media upload returned no media id")
	}
	return out.MediaIDString, nil
}

func writeMediaForm(mw *multipart.Writer, path string) error {
	if err := mw.WriteField("media_category", "tweet_video"); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	part, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func (t *Twitter) ResolveAccount(ctx context.Context, client *http.Client, _ *oauth2.Token) (string, string, error) {
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := t.getJSON(ctx, NewRetryClient(client, t.retry), t.apiURL+"/users/me", "user lookup", &out); err != nil {
		return "", "", err
	}
	return out.Data.ID, out.Data.Username, nil
}
