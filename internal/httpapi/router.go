// Package httpapi exposes the Retrieval Facade and operational endpoints
// (search, where-used, lineage, doctor, index, enrich, graph) over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/llmc-dev/codeindex"
)

// NewRouter builds the chi router for a single Engine instance. apiKey, when
// non-empty, requires a matching "Authorization: Bearer <apiKey>" header on
// every /api/v1 route; corsOrigins, when non-empty, is echoed back as
// Access-Control-Allow-Origin.
func NewRouter(eng codeindex.Engine, logger *slog.Logger, apiKey, corsOrigins string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware(corsOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	h := &handler{eng: eng, logger: logger}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(apiKey))
		r.Get("/search", h.handleSearch)
		r.Get("/where-used", h.handleWhereUsed)
		r.Get("/lineage", h.handleLineage)
		r.Get("/doctor", h.handleDoctor)
		r.Post("/index", h.handleIndex)
		r.Post("/enrich", h.handleEnrich)
		r.Post("/graph", h.handleBuildGraph)
	})

	return r
}
