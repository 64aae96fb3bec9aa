package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/memento/internal/engine"
)

// newRouter builds the chi router exposing the three public operations
// spec §6 names for the HTTP collaborator: POST /remember, POST /recall,
// GET /stats — grounded on the teacher's internal/api/router.go
// middleware-chaining shape.
func newRouter(en *engine.Engine, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(recovery(logger))
	r.Use(requestLogger(logger))

	h := &handlers{engine: en}

	r.Get("/health", h.health)
	r.Post("/remember", h.remember)
	r.Post("/recall", h.recall)
	r.Get("/stats", h.stats)

	return r
}
