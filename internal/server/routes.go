package server

import (
	"github.com/go-chi/chi/v5"

	"github.com/dwsmith1983/feedrun/internal/server/handlers"
)

func (s *Server) registerRoutes(r chi.Router) {
	h := handlers.New(s.ingestion)
	h.SetLogger(s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Post("/ingestion", h.TriggerIngestion)
		r.Get("/ingestion", h.ListIngestions)
		r.Get("/ingestion/{runID}", h.GetIngestion)
		r.Post("/ingestion/{runID}/cancel", h.CancelIngestion)
	})
}
