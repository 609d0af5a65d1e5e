package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/morganhq/relay/internal/config"
	"github.com/morganhq/relay/internal/service"
	"github.com/morganhq/relay/internal/store"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(db *store.DB, svc *service.Manager, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db)
	convH := NewConversationHandler(svc, cfg.MaxListResults)
	streamH := NewStreamHandler(svc, cfg.MaxEventBytes)

	r.Get("/health", healthH.Health)

	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", convH.Create)
		r.Get("/", convH.List)
		r.Get("/{id}", convH.Get)
		r.Patch("/{id}", convH.Rename)
		r.Get("/{id}/timeline", convH.Timeline)
		r.Post("/{id}/messages", convH.PostMessage)
		r.Post("/{id}/events", streamH.Ingest)
		r.Post("/{id}/abort", streamH.Abort)
		r.Post("/{id}/stop", streamH.Stop)
	})

	return r
}
