package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capora-backend/internal/models"
	"capora-backend/internal/repository"
	"capora-backend/internal/services"
)

func scheduleBody(at time.Time, platforms ...string) *strings.Reader {
	b, _ := json.Marshal(map[string]interface{}{"platforms": platforms, "schedule_time": at})
	return strings.NewReader(string(b))
}

func TestSchedule_CreateListCancel(t *testing.T) {
	f := newContentFixture(t)
	h := NewScheduleHandler(services.NewPublishScheduler(repository.NewMemoryScheduleRepo(), f.publisher, f.queue, nil))
	id := f.seed(t, models.StatusReady, []models.Platform{models.PlatformTikTok}, models.PlatformTikTok)

	rr := httptest.NewRecorder()
	h.Create(rr, f.request(http.MethodPost, "/", scheduleBody(time.Now().Add(time.Hour), "tiktok"), map[string]string{"id": id.String()}))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var sp models.ScheduledPublish
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sp))
	assert.Equal(t, id, sp.ContentID)

	rr = httptest.NewRecorder()
	h.List(rr, f.request(http.MethodGet, "/", nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), sp.ID.String())

	rr = httptest.NewRecorder()
	h.Cancel(rr, f.request(http.MethodDelete, "/", nil, map[string]string{"id": sp.ID.String()}))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.Cancel(rr, f.request(http.MethodDelete, "/", nil, map[string]string{"id": sp.ID.String()}))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSchedule_RejectsPastTimeAndMissingVariant(t *testing.T) {
	f := newContentFixture(t)
	h := NewScheduleHandler(services.NewPublishScheduler(repository.NewMemoryScheduleRepo(), f.publisher, f.queue, nil))
	id := f.seed(t, models.StatusReady,
		[]models.Platform{models.PlatformTikTok, models.PlatformYouTubeShorts},
		models.PlatformTikTok)
	params := map[string]string{"id": id.String()}

	rr := httptest.NewRecorder()
	h.Create(rr, f.request(http.MethodPost, "/", scheduleBody(time.Now().Add(-time.Minute), "tiktok"), params))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Fields, "schedule_time")

	rr = httptest.NewRecorder()
	h.Create(rr, f.request(http.MethodPost, "/", scheduleBody(time.Now().Add(time.Hour), "youtube_shorts"), params))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
}
