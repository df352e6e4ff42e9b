// Package api exposes the query surface over a local HTTP router.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/othala/internal/apperr"
	"github.com/halvard/othala/internal/query"
	"github.com/halvard/othala/internal/search"
)

// Handler holds API route handlers.
type Handler struct {
	svc *query.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *query.Service) *Handler {
	return &Handler{svc: svc}
}

// GetNode handles GET /nodes/{id}.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}
	includeBody := boolParam(r, "body")
	bodyLimit := intParam(r, "body_limit", 0)

	detail, err := h.svc.NodeByID(r.Context(), id, includeBody, bodyLimit)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("node not found"))
			return
		}
		h.internalError(w, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListByType handles GET /types/{type}/nodes.
func (h *Handler) ListByType(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	if typ == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("type is required"))
		return
	}
	statuses := r.URL.Query()["status"]
	limit := intParam(r, "limit", 50)
	includeBody := boolParam(r, "body")

	items, err := h.svc.ListByType(r.Context(), typ, statuses, limit, includeBody)
	if err != nil {
		h.internalError(w, "list by type", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":  typ,
		"count": len(items),
		"nodes": items,
	})
}

// Search handles GET /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("q is required"))
		return
	}
	opts := search.Options{
		Limit:                intParam(r, "limit", 0),
		Types:                r.URL.Query()["type"],
		Statuses:             r.URL.Query()["status"],
		IncludeRelationships: boolParam(r, "relationships"),
	}

	result, err := h.svc.Search(r.Context(), q, opts)
	if err != nil {
		h.internalError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Graph handles GET /graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Graph(r.Context())
	if err != nil {
		h.internalError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	slog.Error(op+" failed", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
