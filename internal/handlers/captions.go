package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"capora-backend/internal/captions"
	"capora-backend/internal/middleware"
	"capora-backend/internal/models"
	"capora-backend/internal/services"
)

type CaptionHandler struct {
	generator *captions.Generator
	content   *services.ContentService
}

func NewCaptionHandler(generator *captions.Generator, content *services.ContentService) *CaptionHandler {
	return &CaptionHandler{generator: generator, content: content}
}

// Generate always answers with a caption; provider failures fall back to
// templates. With content_id the caption is also saved onto the item.
func (h *CaptionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateCaptionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var platforms []models.Platform
	if len(req.Platforms) > 0 {
		parsed, err := services.ParsePlatforms(req.Platforms)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		platforms = parsed
	}
	includeHashtags := true
	if req.IncludeHashtags != nil {
		includeHashtags = *req.IncludeHashtags
	}

	var contentID uuid.UUID
	if req.ContentID != nil {
		// format already checked by the uuid tag
		contentID = uuid.MustParse(*req.ContentID)
	}

	res := h.generator.Generate(r.Context(), captions.Request{
		Description:     req.Description,
		Tone:            req.Tone,
		Niche:           req.Niche,
		Platforms:       platforms,
		IncludeHashtags: includeHashtags,
		MaxLength:       req.MaxLength,
	})

	if contentID != uuid.Nil {
		if _, err := h.content.UpdateCaption(r.Context(), middleware.GetUserID(r.Context()), contentID, res.Caption, res.Hashtags); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	hashtags := res.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	writeJSON(w, http.StatusOK, models.CaptionResponse{
		Caption:    res.Caption,
		Hashtags:   hashtags,
		Engagement: res.Engagement,
		Provider:   res.Provider,
		Fallback:   res.Fallback,
	})
}
