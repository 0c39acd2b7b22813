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

// Facebook posts page videos by URL with the page's own access token.
type Facebook struct {
	base
	graphURL string
}

func NewFacebook(clients ClientSource, ep Endpoints, retry RetryConfig) *Facebook {
	return &Facebook{
		base:     newBase(models.PlatformFacebook, clients, retry),
		graphURL: strings.TrimRight(ep.GraphURL, "/"),
	}
}

func (f *Facebook) Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error) {
	if req.MediaURL == "" {
		return nil, fmt.Errorf("variant has no public URL for facebook to pull")
	}
	client, acct, err := f.connect(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if acct.AccountID == "" {
		return nil, fmt.Errorf("facebook page id missing; reconnect the account")
	}

	var page struct {
		AccessToken string `json:"access_token"`
	}
	if err := f.getJSON(ctx, client, fmt.Sprintf("%s/%s?fields=access_token", f.graphURL, acct.AccountID), "page token", &page); err != nil {
		return nil, err
	}

	form := url.Values{
		"file_url":    {req.MediaURL},
		"title":       {req.Title},
		"description": {composeText(req.Caption, req.Hashtags, 0)},
		"published":   {"true"},
	}
	if page.AccessToken != "" {
		form.Set("access_token", page.AccessToken)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := f.postForm(ctx, client, fmt.Sprintf("%s/%s/videos", f.graphURL, acct.AccountID), "video upload", form, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("facebook video upload returned no id")
	}

	return &models.PostReceipt{
		PostID:   out.ID,
		PostURL:  fmt.Sprintf("https://www.facebook.com/%s/videos/%s", acct.AccountID, out.ID),
		PostedAt: time.Now().UTC(),
	}, nil
}

// ResolveAccount picks the first page the user manages.
func (f *Facebook) ResolveAccount(ctx context.Context, client *http.Client, _ *oauth2.Token) (string, string, error) {
	var out struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := f.getJSON(ctx, NewRetryClient(client, f.retry), f.graphURL+"/me/accounts?fields=id,name", "page lookup", &out); err != nil {
		return "", "", err
	}
	if len(out.Data) == 0 {
		return "", "", fmt.Errorf("no facebook pages on this account")
	}
	return out.Data[0].ID, out.Data[0].Name, nil
}
