package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weftlabs/weft/internal/bindservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *bindservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents and their projections.
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/{id}", h.GetDocument)
	r.Put("/documents/{id}", h.PutDocument)
	r.Delete("/documents/{id}", h.DeleteDocument)
	r.Get("/documents/{id}/blocks", h.ListBlocks)
	r.Get("/documents/{id}/bindings", h.ListBindings)
	r.Post("/documents/{id}/annotate", h.Annotate)
	r.Get("/documents/{id}/inconsistencies", h.ListInconsistencies)
	r.Post("/documents/{id}/inconsistencies", h.DetectInconsistencies)

	// Bindings and status arbitration.
	r.Post("/bindings", h.CreateBinding)
	r.Post("/bindings/status", h.BatchStatus)
	r.Get("/bindings/{id}", h.GetBinding)
	r.Get("/bindings/{id}/log", h.StatusLog)
	r.Post("/bindings/{id}/transition", h.Transition)

	// Anchors and their arbitration.
	r.Get("/blocks/{id}/anchors", h.ListAnchors)
	r.Post("/anchors/{id}/lock", h.LockAnchor)
	r.Post("/anchors/{id}/reject", h.RejectAnchor)

	// Inconsistency resolution.
	r.Post("/inconsistencies/{id}/resolve", h.ResolveInconsistency)

	// Concept registry.
	r.Post("/concepts", h.CreateConcept)
	r.Get("/concepts", h.ListConcepts)
	r.Get("/concepts/{id}", h.GetConcept)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
