package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/llmc-dev/codeindex"
	"github.com/llmc-dev/codeindex/internal/retrieval"
)

type handler struct {
	eng    codeindex.Engine
	logger *slog.Logger
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 10
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 10
	}
	return n
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, errMissingQueryParam("q"))
		return
	}
	envelope := h.eng.Search(r.Context(), query, codeindex.WithLimit(limitParam(r)))
	h.writeJSON(w, http.StatusOK, envelope)
}

func (h *handler) handleWhereUsed(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		h.writeError(w, http.StatusBadRequest, errMissingQueryParam("symbol"))
		return
	}
	envelope := h.eng.WhereUsed(r.Context(), symbol, codeindex.WithLimit(limitParam(r)))
	h.writeJSON(w, http.StatusOK, envelope)
}

func (h *handler) handleLineage(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		h.writeError(w, http.StatusBadRequest, errMissingQueryParam("symbol"))
		return
	}
	dir := retrieval.Downstream
	if r.URL.Query().Get("direction") == "upstream" {
		dir = retrieval.Upstream
	}
	envelope := h.eng.Lineage(r.Context(), symbol, dir, codeindex.WithLimit(limitParam(r)))
	h.writeJSON(w, http.StatusOK, envelope)
}

func (h *handler) handleDoctor(w http.ResponseWriter, r *http.Request) {
	report, err := h.eng.Doctor(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	stats, err := h.eng.Index(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *handler) handleEnrich(w http.ResponseWriter, r *http.Request) {
	total := limitParam(r)
	if v := r.URL.Query().Get("total"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			total = n
		}
	}
	processed, err := h.eng.Enrich(r.Context(), total)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (h *handler) handleBuildGraph(w http.ResponseWriter, r *http.Request) {
	var opts []codeindex.GraphOption
	if r.URL.Query().Get("require_enrichment") == "true" {
		opts = append(opts, codeindex.WithRequireEnrichment())
	}
	if err := h.eng.BuildGraph(r.Context(), opts...); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "built"})
}

type missingParamError struct{ name string }

func (e missingParamError) Error() string { return "missing required query parameter: " + e.name }

func errMissingQueryParam(name string) error { return missingParamError{name: name} }
