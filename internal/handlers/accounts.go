package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/middleware"
	"capora-backend/internal/models"
	"capora-backend/internal/platforms"
)

type AccountHandler struct {
	connector   *platforms.Connector
	frontendURL string
	log         *logrus.Entry
}

// NewAccountHandler builds the account endpoints. When frontendURL is set the
// OAuth callback redirects there instead of answering with JSON.
func NewAccountHandler(connector *platforms.Connector, frontendURL string) *AccountHandler {
	return &AccountHandler{
		connector:   connector,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		log:         logger.For("accounts-api"),
	}
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.connector.Accounts(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (h *AccountHandler) Connect(w http.ResponseWriter, r *http.Request) {
	platform, ok := parsePlatformParam(w, r)
	if !ok {
		return
	}

	authURL, err := h.connector.AuthURL(r.Context(), middleware.GetUserID(r.Context()), platform)
	if errors.Is(err, platforms.ErrNotConfigured) {
		writeJSON(w, http.StatusBadRequest, errorResp("PLATFORM_NOT_CONFIGURED", "Publishing to "+string(platform)+" is not configured", r))
		return
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platform": platform,
		"auth_url": authURL,
	})
}

// Callback is the OAuth redirect target. It is not behind bearer auth; the
// state nonce identifies the user.
func (h *AccountHandler) Callback(w http.ResponseWriter, r *http.Request) {
	platform, ok := parsePlatformParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		h.finish(w, r, platform, nil, "authorization denied: "+denied)
		return
	}
	if q.Get("state") == "" || q.Get("code") == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Missing state or code", r))
		return
	}

	acct, err := h.connector.Complete(r.Context(), platform, q.Get("state"), q.Get("code"))
	switch {
	case errors.Is(err, platforms.ErrInvalidState):
		writeJSON(w, http.StatusBadRequest, errorResp("INVALID_STATE", "Authorization expired, please connect again", r))
		return
	case errors.Is(err, platforms.ErrNotConfigured):
		writeJSON(w, http.StatusBadRequest, errorResp("PLATFORM_NOT_CONFIGURED", "Publishing to "+string(platform)+" is not configured", r))
		return
	case err != nil:
		h.log.WithError(err).WithField("platform", platform).Error("oauth callback failed")
		h.finish(w, r, platform, nil, "could not connect account")
		return
	}
	h.finish(w, r, platform, acct, "")
}

func (h *AccountHandler) finish(w http.ResponseWriter, r *http.Request, platform models.Platform, acct *platforms.Account, failure string) {
	if h.frontendURL != "" {
		v := url.Values{"platform": {string(platform)}}
		if failure != "" {
			v.Set("error", failure)
		} else {
			v.Set("connected", "true")
		}
		http.Redirect(w, r, h.frontendURL+"/accounts?"+v.Encode(), http.StatusFound)
		return
	}
	if failure != "" {
		writeJSON(w, http.StatusBadGateway, errorResp("CONNECT_FAILED", failure, r))
		return
	}
	writeJSON(w, http.StatusOK, models.PlatformAccount{
		Platform:    platform,
		Connected:   true,
		AccountID:   acct.AccountID,
		Username:    acct.Username,
		ConnectedAt: &acct.ConnectedAt,
		Configured:  true,
	})
}

func (h *AccountHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	platform, ok := parsePlatformParam(w, r)
	if !ok {
		return
	}
	removed, err := h.connector.Disconnect(r.Context(), middleware.GetUserID(r.Context()), platform)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Account not connected", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account disconnected"})
}

func parsePlatformParam(w http.ResponseWriter, r *http.Request) (models.Platform, bool) {
	platform, ok := models.ParsePlatform(chi.URLParam(r, "platform"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Unsupported platform", r))
		return "", false
	}
	return platform, true
}
