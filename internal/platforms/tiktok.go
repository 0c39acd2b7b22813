package platforms

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"capora-backend/internal/models"
)

const tiktokTitleMax = 150

type tiktokInitRequest struct {
	PostInfo   tiktokPostInfo   `json:"post_info"`
	SourceInfo tiktokSourceInfo `json:"source_info"`
}

type tiktokPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMS int    `json:"video_cover_timestamp_ms"`
}

type tiktokSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type tiktokInitResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// TikTok posts through the Content Posting API, letting TikTok pull the
// variant from its public URL.
type TikTok struct {
	base
	baseURL string
}

func NewTikTok(clients ClientSource, ep Endpoints, retry RetryConfig) *TikTok {
	return &TikTok{
		base:    newBase(models.PlatformTikTok, clients, retry),
		baseURL: strings.TrimRight(ep.TikTokURL, "/"),
	}
}

func (t *TikTok) Publish(ctx context.Context, req models.PostRequest) (*models.PostReceipt, error) {
	if req.MediaURL == "" {
		return nil, fmt.Errorf("variant has no public URL for tiktok to pull")
	}
	client, acct, err := t.connect(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	payload := tiktokInitRequest{
		PostInfo: tiktokPostInfo{
			Title:                 composeText(req.Caption, req.Hashtags, tiktokTitleMax),
			PrivacyLevel:          "PUBLIC_TO_EVERYONE",
			VideoCoverTimestampMS: 1000,
		},
		SourceInfo: tiktokSourceInfo{Source: "PULL_FROM_URL", VideoURL: req.MediaURL},
	}
	var out tiktokInitResponse
	if err := t.postJSON(ctx, client, t.baseURL+"/v2/post/publish/video/init/", "publish init", payload, &out); err != nil {
		return nil, err
	}
	if out.Error.Code != "" && out.Error.Code != "ok" {
		return nil, fmt.Errorf("tiktok publish init: %s: %s", out.Error.Code, out.Error.Message)
	}
	if out.Data.PublishID == "" {
		return nil, fmt.Errorf("tiktok publish init returned no publish id")
	}

	receipt := &models.PostReceipt{PostID: out.Data.PublishID, PostedAt: time.Now().UTC()}
	if acct.Username != "" {
		receipt.PostURL = "https://www.tiktok.com/@" + acct.Username
	}
	return receipt, nil
}

// ResolveAccount reads the open_id TikTok returns alongside the token.
func (t *TikTok) ResolveAccount(_ context.Context, _ *http.Client, tok *oauth2.Token) (string, string, error) {
	openID, _ := tok.Extra("open_id").(string)
	if openID == "" {
		return "", "", fmt.Errorf("token response carried no open_id")
	}
	return openID, "", nil
}
