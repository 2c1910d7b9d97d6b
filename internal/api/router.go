package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apiMiddleware "github.com/phrazzld/scry-jobs/internal/api/middleware"
)

// NewRouter builds the ops HTTP router.
func NewRouter(h *OpsHandler, log *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(log))

	r.Get("/healthz", h.Health)
	r.Get("/gates", h.Gates)
	r.Get("/queues/{queue}/stats", h.QueueStats)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.EnqueueJob)
		r.Get("/{id}", h.GetJob)
	})

	return r
}
