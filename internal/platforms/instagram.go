package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"capora-backend/internal/models"
)

const instagramCaptionMax = 2200

// Instagram publishes Reels with the Graph API container flow: create a
// REELS container, wait for it to finish ingesting, then media_publish.
type Instagram struct {
	base
	graphURL     string
	pollInterval time.Duration
	maxPolls     int
}

func NewInstagram(clients ClientSource, ep Endpoints, retry RetryConfig) *Instagram {
	return &Instagram{
		base:         newBase(models.PlatformInstagram, clients, retry),
		graphURL:     strings.TrimRight(ep.GraphURL, "/"),
		pollInterval: 3 * time.Second,
		maxPolls:     40,
	}
}

// WithPolling changes how the adapter waits for container processing.
func (g *Instagram) WithPolling(interval time.Duration, maxPolls int) *Instagram {
	g.pollInterval = interval
	g.maxPolls = maxPolls
	return g
}

func (g *Instagram) Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error) {
	if req.MediaURL == "" {
		return nil, fmt.Errorf("variant has no public URL for instagram to pull")
	}
	client, acct, err := g.connect(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if acct.AccountID == "" {
		return nil, fmt.Errorf("instagram business account id missing; reconnect the account")
	}

	var container struct {
		ID string `json:"id"`
	}
	form := url.Values{
		"media_type": {"REELS"},
		"video_url":  {req.MediaURL},
		"caption":    {composeText(req.Caption, req.Hashtags, instagramCaptionMax)},
	}
	if err := g.postForm(ctx, client, fmt.Sprintf("%s/%s/media", g.graphURL, acct.AccountID), "container creation", form, &container); err != nil {
		return nil, err
	}
	if container.ID == "" {
		return nil, fmt.Errorf("instagram container creation returned no id")
	}

	if err := g.waitForContainer(ctx, client, container.ID); err != nil {
		return nil, err
	}

	var published struct {
		ID string `json:"id"`
	}
	publishForm := url.Values{"creation_id": {container.ID}}
	if err := g.postForm(ctx, client, fmt.Sprintf("%s/%s/media_publish", g.graphURL, acct.AccountID), "media publish", publishForm, &published); err != nil {
		return nil, err
	}

	return &models.PostReceipt{
		PostID:   published.ID,
		PostURL:  "https://www.instagram.com/reel/" + published.ID,
		PostedAt: time.Now().UTC(),
	}, nil
}

func (g *Instagram) waitForContainer(ctx context.Context, client *RetryClient, id string) error {
	for i := 0; i < g.maxPolls; i++ {
		var st struct {
			StatusCode string `json:"status_code"`
			Status     string `json:"status"`
		}
		if err := g.getJSON(ctx, client, fmt.Sprintf("%s/%s?fields=status_code,status", g.graphURL, id), "container status", &st); err != nil {
			return err
		}
		switch st.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("instagram rejected the video: %s", st.Status)
		}
		if err := sleepCtx(ctx, g.pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("instagram container %s still processing", id)
}

// ResolveAccount finds the Instagram business account linked to the user's
// first page.
func (g *Instagram) ResolveAccount(ctx context.Context, client *http.Client, _ *oauth2.Token) (string, string, error) {
	var out struct {
		Data []struct {
			InstagramBusinessAccount *struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		} `json:"data"`
	}
	endpoint := g.graphURL + "/me/accounts?fields=instagram_business_account%7Bid,username%7D"
	if err := g.getJSON(ctx, NewRetryClient(client, g.retry), endpoint, "account lookup", &out); err != nil {
		return "", "", err
	}
	for _, page := range out.Data {
		if page.InstagramBusinessAccount != nil && page.InstagramBusinessAccount.ID != "" {
			return page.InstagramBusinessAccount.ID, page.InstagramBusinessAccount.Username, nil
		}
	}
	return "", "", fmt.Errorf("no instagram business account linked to a page")
}
