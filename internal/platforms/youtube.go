package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"capora-backend/internal/models"
)

const (
	youtubeCategoryID = "22"
	youtubeTitleMax   = 100
	youtubeTagsMax    = 20
	shortsTag         = "#Shorts"
)

type videoSnippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	CategoryID  string   `json:"categoryId"`
}

type videoStatus struct {
	PrivacyStatus           string `json:"privacyStatus"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
}

type videoMetadata struct {
	Snippet videoSnippet `json:"snippet"`
	Status  videoStatus  `json:"status"`
}

// YouTube uploads Shorts through the Data API multipart upload.
type YouTube struct {
	base
	media     MediaOpener
	uploadURL string
	apiURL    string
}

func NewYouTube(clients ClientSource, media MediaOpener, ep Endpoints, retry RetryConfig) *YouTube {
	return &YouTube{
		base:      newBase(models.PlatformYouTubeShorts, clients, retry),
		media:     media,
		uploadURL: ep.YouTubeUploadURL,
		apiURL:    strings.TrimRight(ep.YouTubeAPIURL, "/"),
	}
}

func (y *YouTube) Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error) {
	client, _, err := y.connect(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	path, cleanup, err := y.media.Open(ctx, req.MediaLocation)
	if err != nil {
		return nil, fmt.Errorf("open variant: %w", err)
	}
	defer cleanup()

	tags := make([]string, 0, len(req.Hashtags))
	for _, h := range req.Hashtags {
		if len(tags) == youtubeTagsMax {
			break
		}
		tags = append(tags, strings.TrimPrefix(h, "#"))
	}
	meta, err := json.Marshal(videoMetadata{
		Snippet: videoSnippet{
			Title:       shortsTitle(req.Title),
			Description: composeText(req.Caption, req.Hashtags, 5000),
			Tags:        tags,
			CategoryID:  youtubeCategoryID,
		},
		Status: videoStatus{PrivacyStatus: "public"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		_ = pw.CloseWithError(writeRelated(mw, meta, path))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, y.uploadURL+"?uploadType=multipart&part=snippet,status", pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var out struct {
		ID string `json:"id"`
	}
	if err := y.send(client, httpReq, "upload", &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("youtube upload returned no video id")
	}
	return &models.PostReceipt{
		PostID:   out.ID,
		PostURL:  "https://youtube.com/shorts/" + out.ID,
		PostedAt: time.Now().UTC(),
	}, nil
}

func (y *YouTube) ResolveAccount(ctx context.Context, client *http.Client, _ *oauth2.Token) (string, string, error) {
	var out struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := y.getJSON(ctx, NewRetryClient(client, y.retry), y.apiURL+"/channels?part=snippet&mine=true", "channel lookup", &out); err != nil {
		return "", "", err
	}
	if len(out.Items) == 0 {
		return "", "", fmt.Errorf("no youtube channel on this account")
	}
	return out.Items[0].ID, out.Items[0].Snippet.Title, nil
}

func writeRelated(mw *multipart.Writer, meta []byte, videoPath string) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}

	f, err := os.Open(videoPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"video/mp4"}})
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

// shortsTitle tags the title as a Short and keeps it within the title limit.
func shortsTitle(title string) string {
	title = strings.TrimSpace(title)
	if strings.Contains(strings.ToLower(title), strings.ToLower(shortsTag)) {
		return truncate(title, youtubeTitleMax)
	}
	room := youtubeTitleMax - len(shortsTag) - 1
	return strings.TrimSpace(truncate(title, room) + " " + shortsTag)
}
