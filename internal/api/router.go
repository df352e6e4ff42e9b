package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/othala/internal/query"
)

// NewRouter creates a chi router with the query surface mounted.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *query.Service, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	r.Get("/nodes/{id}", h.GetNode)
	r.Get("/types/{type}/nodes", h.ListByType)
	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)
	r.Get("/stats", h.Stats)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
