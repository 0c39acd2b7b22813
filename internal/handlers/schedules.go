package handlers

import (
	"net/http"

	"capora-backend/internal/middleware"
	"capora-backend/internal/models"
	"capora-backend/internal/services"
)

type ScheduleHandler struct {
	scheduler *services.PublishScheduler
}

func NewScheduleHandler(scheduler *services.PublishScheduler) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler}
}

func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "content")
	if !ok {
		return
	}
	var req models.ScheduleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	sp, err := h.scheduler.Schedule(r.Context(), middleware.GetUserID(r.Context()), id, services.ScheduleInput{
		Platforms:       req.Platforms,
		RunAt:           req.ScheduleTime,
		CaptionOverride: req.CaptionOverride,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sp)
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.scheduler.List(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ScheduledPublish{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": list})
}

func (h *ScheduleHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "schedule")
	if !ok {
		return
	}
	if err := h.scheduler.Cancel(r.Context(), middleware.GetUserID(r.Context()), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Schedule cancelled"})
}
