package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"capora-backend/internal/logger"
	"capora-backend/internal/middleware"
	"capora-backend/internal/models"
	"capora-backend/internal/services"
	"capora-backend/internal/storage"
)

const (
	multipartMemory = 32 << 20
	maxStatusWait   = 60 * time.Second
)

// JobQueue hands long-running work to the worker pool.
type JobQueue interface {
	EnqueueProcess(ctx context.Context, userID, contentID uuid.UUID) (*models.Job, error)
	EnqueuePublish(ctx context.Context, userID, contentID uuid.UUID, cfg models.PublishJobConfig) (*models.Job, error)
}

// StatusWaiter blocks until the next status event for an item.
type StatusWaiter interface {
	WaitForUpdate(ctx context.Context, contentID uuid.UUID, timeout time.Duration) bool
}

type ContentHandler struct {
	content   *services.ContentService
	processor *services.VariantProcessor
	publisher *services.PublishOrchestrator
	queue     JobQueue
	waiter    StatusWaiter
	store     storage.Backend
	maxUpload int64
	log       *logrus.Entry
}

func NewContentHandler(
	content *services.ContentService,
	processor *services.VariantProcessor,
	publisher *services.PublishOrchestrator,
	queue JobQueue,
	waiter StatusWaiter,
	store storage.Backend,
	maxUploadMB int,
) *ContentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 100
	}
	return &ContentHandler{
		content:   content,
		processor: processor,
		publisher: publisher,
		queue:     queue,
		waiter:    waiter,
		store:     store,
		maxUpload: int64(maxUploadMB) << 20,
		log:       logger.For("content-api"),
	}
}

func (h *ContentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limitMB := strconv.FormatInt(h.maxUpload>>20, 10)
	if r.ContentLength > h.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "File size exceeds "+limitMB+"MB limit", r))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResp("FILE_TOO_LARGE", "File size exceeds "+limitMB+"MB limit", r))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid multipart form", r))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "No file provided", r))
		return
	}
	defer file.Close()

	// Read first 512 bytes for magic byte check
	buf := make([]byte, 512)
	n, _ := io.ReadFull(file, buf)
	mimeType := http.DetectContentType(buf[:n])
	if !isVideoUpload(mimeType, header.Filename) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResp("UNSUPPORTED_FORMAT", "File must be a video", r))
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to read upload", r))
		return
	}

	form := r.MultipartForm.Value
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	// reject bad input before anything is written to storage
	if _, err := services.ParsePlatforms(form["platforms"]); err != nil {
		handleServiceError(w, r, err)
		return
	}

	userID := middleware.GetUserID(r.Context())
	contentID := uuid.New()
	location, size, err := h.store.Save(r.Context(), storage.SourceKey(contentID.String(), header.Filename), file)
	if err != nil {
		h.log.WithError(err).WithField("content_id", contentID).Error("failed to store upload")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to store upload", r))
		return
	}

	item, err := h.content.CreateContentItem(r.Context(), userID, services.NewContentItem{
		ID:             contentID,
		Title:          title,
		Description:    optionalString(r.FormValue("description")),
		Caption:        optionalString(r.FormValue("caption")),
		Hashtags:       splitList(form["hashtags"]),
		Platforms:      form["platforms"],
		SourceLocation: location,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"content_id": item.ID,
		"status":     item.Status,
		"platforms":  item.Platforms,
		"filename":   header.Filename,
		"mime_type":  mimeType,
		"size_bytes": size,
	})
}

func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.content.ListContentItems(r.Context(), middleware.GetUserID(r.Context()), q.Get("status"), limit, offset)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *ContentHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *ContentHandler) Variants(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	variants := item.Variants
	if variants == nil {
		variants = []models.VideoVariant{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"content_id": item.ID, "variants": variants})
}

func (h *ContentHandler) Results(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadItem(w, r)
	if !ok {
		return
	}
	results := item.PublishResults
	if results == nil {
		results = []models.PublishResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"content_id": item.ID, "results": results})
}

func (h *ContentHandler) loadItem(w http.ResponseWriter, r *http.Request) (*models.ContentItem, bool) {
	id, ok := parseUUIDParam(w, r, "id", "content")
	if !ok {
		return nil, false
	}
	item, err := h.content.GetContentItem(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	return item, true
}

func (h *ContentHandler) UpdateCaption(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "content")
	if !ok {
		return
	}
	var req models.UpdateCaptionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	item, err := h.content.UpdateCaption(r.Context(), middleware.GetUserID(r.Context()), id, req.Caption, req.Hashtags)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Process starts variant processing. With ?sync=true it runs inline and
// returns the outcome; otherwise it queues a job and returns 202.
func (h *ContentHandler) Process(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "content")
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	if wantSync(r) {
		out, err := h.processor.Process(r.Context(), userID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	item, err := h.processor.Start(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	job, err := h.queue.EnqueueProcess(r.Context(), userID, id)
	if err != nil {
		h.log.WithError(err).WithField("content_id", id).Error("failed to queue processing")
		if ferr := h.processor.Fail(context.Background(), id, "failed to queue processing"); ferr != nil {
			h.log.WithError(ferr).WithField("content_id", id).Error("failed to mark content failed")
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue processing", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"content_id": id,
		"status":     item.Status,
	})
}

// Publish validates and takes the publish guard in the request, so
// conflicts surface as 409/422 here rather than in the job.
func (h *ContentHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "content")
	if !ok {
		return
	}
	var req models.PublishRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	userID := middleware.GetUserID(r.Context())
	in := services.PublishInput{Platforms: req.Platforms, CaptionOverride: req.CaptionOverride}

	if wantSync(r) {
		out, err := h.publisher.Publish(r.Context(), userID, id, in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	targets, err := h.publisher.Prepare(r.Context(), userID, id, in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	job, err := h.queue.EnqueuePublish(r.Context(), userID, id, models.PublishJobConfig{
		Platforms:       targets,
		CaptionOverride: req.CaptionOverride,
		Prepared:        true,
	})
	if err != nil {
		h.log.WithError(err).WithField("content_id", id).Error("failed to queue publish")
		h.publisher.Release(context.Background(), id)
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue publish", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"content_id": id,
		"platforms":  targets,
	})
}

// Status returns the status view. ?wait=N (seconds, at most 60) first
// blocks until the next status event for the item or the timeout.
func (h *ContentHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id", "content")
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	view, err := h.content.Status(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if wait := parseWait(r.URL.Query().Get("wait")); wait > 0 && h.waiter != nil {
		h.waiter.WaitForUpdate(r.Context(), id, wait)
		view, err = h.content.Status(r.Context(), userID, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, view)
}

func parseWait(raw string) time.Duration {
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	wait := time.Duration(secs) * time.Second
	if wait > maxStatusWait {
		wait = maxStatusWait
	}
	return wait
}

func wantSync(r *http.Request) bool {
	sync, _ := strconv.ParseBool(r.URL.Query().Get("sync"))
	return sync
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".webm": true,
	".mkv":  true,
	".avi":  true,
}

// isVideoUpload accepts sniffed video types, and octet-stream only with a
// video extension (QuickTime and Matroska are not sniffed).
func isVideoUpload(mime, filename string) bool {
	if strings.HasPrefix(mime, "video/") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return mime == "application/octet-stream" && videoExtensions[ext]
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// splitList flattens repeated and comma-separated form values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
