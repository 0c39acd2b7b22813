package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"capora-backend/internal/handlers"
	"capora-backend/internal/middleware"
	"capora-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	contentHandler *handlers.ContentHandler,
	scheduleHandler *handlers.ScheduleHandler,
	captionHandler *handlers.CaptionHandler,
	accountHandler *handlers.AccountHandler,
	platformHandler *handlers.PlatformHandler,
	jobHandler *handlers.JobHandler,
	healthHandler *handlers.HealthHandler,
	wsHub *websocket.Hub,
	captionLimiter *middleware.RateLimiter,
	media http.Handler,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	r.Get("/health", healthHandler.Health)

	// Local storage only; platforms pull variants from here.
	if media != nil {
		r.Handle("/media/*", http.StripPrefix("/media/", media))
	}

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Content Routes ────
		r.Route("/content", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/", contentHandler.Upload)
			r.Get("/", contentHandler.List)
			r.Get("/{id}", contentHandler.Get)
			r.Put("/{id}/caption", contentHandler.UpdateCaption)
			r.Get("/{id}/variants", contentHandler.Variants)
			r.Get("/{id}/results", contentHandler.Results)
			r.Get("/{id}/status", contentHandler.Status)
			r.Post("/{id}/process", contentHandler.Process)
			r.Post("/{id}/publish", contentHandler.Publish)
			r.Post("/{id}/schedule", scheduleHandler.Create)
		})

		// ──── Schedule Routes ────
		r.Route("/schedules", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", scheduleHandler.List)
			r.Delete("/{id}", scheduleHandler.Cancel)
		})

		// ──── Caption Routes ────
		r.Route("/captions", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			if captionLimiter != nil {
				r.Use(captionLimiter.Middleware)
			}
			r.Post("/generate", captionHandler.Generate)
		})

		// ──── Platform Account Routes ────
		r.Route("/accounts", func(r chi.Router) {
			// OAuth redirect target, identified by the state nonce
			r.Get("/{platform}/callback", accountHandler.Callback)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Get("/", accountHandler.List)
				r.Post("/{platform}/connect", accountHandler.Connect)
				r.Delete("/{platform}", accountHandler.Disconnect)
			})
		})

		r.Get("/platforms", platformHandler.List)

		// ──── Job Routes ────
		r.Route("/jobs", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/{id}", jobHandler.GetJob)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
