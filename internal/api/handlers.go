package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/weftlabs/weft/internal/annotate"
	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/arbiter"
	"github.com/weftlabs/weft/internal/bindservice"
	"github.com/weftlabs/weft/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *bindservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *bindservice.Service) *Handler {
	return &Handler{svc: svc}
}

// actorFrom builds the acting identity from request fields, defaulting to a
// user actor.
func actorFrom(actorID string, actorType models.ActorType) arbiter.Actor {
	if actorID == "" {
		actorID = "anonymous"
	}
	switch actorType {
	case models.ActorUser, models.ActorAI, models.ActorSystem:
	default:
		actorType = models.ActorUser
	}
	return arbiter.Actor{ID: actorID, Type: actorType}
}

// writeErr maps service errors to HTTP responses.
func writeErr(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("already exists"))
	case errors.Is(err, apperr.ErrTerminalStatus):
		writeJSON(w, http.StatusConflict, errorBody("binding is deleted"))
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List workspace documents
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		writeErr(w, err, "list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

// GetDocument handles GET /api/documents/{id}.
//
//	@Summary		Get a document with its block projection
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	bindservice.DocumentDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.svc.GetDocument(r.Context(), id)
	if err != nil {
		writeErr(w, err, "get document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// PutDocument handles PUT /api/documents/{id}.
//
//	@Summary		Write document content with optimistic concurrency
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id			path	string	true	"Document ID"
//	@Param			If-Match	header	string	false	"SHA-256 checksum for optimistic concurrency"
//	@Success		200	{object}	bindservice.DocumentDetail
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [put]
func (h *Handler) PutDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	id := chi.URLParam(r, "id")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, errorBody("content must be valid JSON"))
		return
	}

	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)

	doc, err := h.svc.PutDocument(r.Context(), id, body, ifMatch)
	if err != nil {
		writeErr(w, err, "put document")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument handles DELETE /api/documents/{id}.
//
//	@Summary		Delete a document and its projection
//	@Tags			documents
//	@Param			id	path	string	true	"Document ID"
//	@Success		204	"Document deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [delete]
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteDocument(r.Context(), id); err != nil {
		writeErr(w, err, "delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListBlocks handles GET /api/documents/{id}/blocks.
func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	blocks, err := h.svc.ListBlocks(r.Context(), id)
	if err != nil {
		writeErr(w, err, "list blocks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

// ListBindings handles GET /api/documents/{id}/bindings.
func (h *Handler) ListBindings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	bindings, err := h.svc.DocumentBindings(r.Context(), id)
	if err != nil {
		writeErr(w, err, "list bindings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

// Annotate handles POST /api/documents/{id}/annotate.
//
//	@Summary		Run a synchronization pass over a document
//	@Tags			annotate
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Document ID"
//	@Param			body	body		annotate.Request	true	"Proposals grouped by block"
//	@Success		200		{object}	annotate.Result
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/annotate [post]
func (h *Handler) Annotate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req annotate.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	req.DocumentID = chi.URLParam(r, "id")
	if req.OwnerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("ownerId is required"))
		return
	}

	res, err := h.svc.Annotate(r.Context(), req)
	if err != nil {
		writeErr(w, err, "annotate")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateBinding handles POST /api/bindings.
func (h *Handler) CreateBinding(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var b models.Binding
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	created, err := h.svc.CreateBinding(r.Context(), b)
	if err != nil {
		writeErr(w, err, "create binding")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GetBinding handles GET /api/bindings/{id}.
func (h *Handler) GetBinding(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBinding(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get binding")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// StatusLog handles GET /api/bindings/{id}/log.
//
//	@Summary		Get a binding's status audit trail
//	@Tags			bindings
//	@Produce		json
//	@Param			id	path		string	true	"Binding ID"
//	@Success		200	{object}	map[string]any
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/bindings/{id}/log [get]
func (h *Handler) StatusLog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.StatusLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "status log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Transition handles POST /api/bindings/{id}/transition.
//
//	@Summary		Apply one explicit status transition
//	@Tags			bindings
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string	true	"Binding ID"
//	@Success		200		{object}	models.Binding
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/bindings/{id}/transition [post]
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     models.BindingStatus  `json:"status"`
		Transition models.TransitionType `json:"transitionType"`
		ActorID    string                `json:"actorId"`
		ActorType  models.ActorType      `json:"actorType"`
		Reason     string                `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	b, err := h.svc.Transition(r.Context(), chi.URLParam(r, "id"), req.Status, req.Transition,
		actorFrom(req.ActorID, req.ActorType), req.Reason)
	if err != nil {
		writeErr(w, err, "transition")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// BatchStatus handles POST /api/bindings/status, the batch flush endpoint.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Updates   []arbiter.StatusUpdate `json:"updates"`
		ActorID   string                 `json:"actorId"`
		ActorType models.ActorType       `json:"actorType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if len(req.Updates) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("updates are required"))
		return
	}

	if err := h.svc.BatchUpdateStatus(r.Context(), req.Updates, actorFrom(req.ActorID, req.ActorType)); err != nil {
		writeErr(w, err, "batch status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": len(req.Updates)})
}

// ListAnchors handles GET /api/blocks/{id}/anchors.
func (h *Handler) ListAnchors(w http.ResponseWriter, r *http.Request) {
	anchors, err := h.svc.ListAnchors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "list anchors")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anchors": anchors})
}

// LockAnchor handles POST /api/anchors/{id}/lock.
//
//	@Summary		Lock or unlock an anchor against automated re-annotation
//	@Tags			anchors
//	@Accept			json
//	@Produce		json
//	@Param			id	path		string	true	"Anchor ID"
//	@Success		200	{object}	models.Anchor
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/anchors/{id}/lock [post]
func (h *Handler) LockAnchor(w http.ResponseWriter, r *http.Request) {
	locked := true
	if r.ContentLength > 0 {
		var req struct {
			Locked *bool `json:"locked"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
			return
		}
		if req.Locked != nil {
			locked = *req.Locked
		}
	}

	a, err := h.svc.LockAnchor(r.Context(), chi.URLParam(r, "id"), locked)
	if err != nil {
		writeErr(w, err, "lock anchor")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RejectAnchor handles POST /api/anchors/{id}/reject.
//
//	@Summary		Reject an anchor's concept, gating automated re-proposal
//	@Tags			anchors
//	@Param			id	path	string	true	"Anchor ID"
//	@Success		200	{object}	models.Anchor
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/anchors/{id}/reject [post]
func (h *Handler) RejectAnchor(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.RejectAnchor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "reject anchor")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// CreateConcept handles POST /api/concepts.
func (h *Handler) CreateConcept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"ownerId"`
		Title   string `json:"title"`
		Type    string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.OwnerID == "" || strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("ownerId and title are required"))
		return
	}

	c, err := h.svc.CreateConcept(r.Context(), req.OwnerID, req.Title, req.Type)
	if err != nil {
		writeErr(w, err, "create concept")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListConcepts handles GET /api/concepts?owner=...&title=...
// With title params it performs a lookup; without, it lists all of an
// owner's concepts.
func (h *Handler) ListConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner := q.Get("owner")
	if owner == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("owner is required"))
		return
	}

	var (
		concepts []models.Concept
		err      error
	)
	if titles := q["title"]; len(titles) > 0 {
		concepts, err = h.svc.FindConcepts(r.Context(), owner, titles)
	} else {
		concepts, err = h.svc.ListConcepts(r.Context(), owner)
	}
	if err != nil {
		writeErr(w, err, "list concepts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"concepts": concepts})
}

// GetConcept handles GET /api/concepts/{id}.
func (h *Handler) GetConcept(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetConcept(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "get concept")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DetectInconsistencies handles POST /api/documents/{id}/inconsistencies.
//
//	@Summary		Run inconsistency detection against reported existence facts
//	@Tags			inconsistencies
//	@Accept			json
//	@Produce		json
//	@Param			id	path	string	true	"Document ID"
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/documents/{id}/inconsistencies [post]
func (h *Handler) DetectInconsistencies(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req struct {
		Facts []models.ExistenceFacts `json:"facts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	found, err := h.svc.DetectInconsistencies(r.Context(), chi.URLParam(r, "id"), req.Facts)
	if err != nil {
		writeErr(w, err, "detect inconsistencies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inconsistencies": found})
}

// ListInconsistencies handles GET /api/documents/{id}/inconsistencies.
func (h *Handler) ListInconsistencies(w http.ResponseWriter, r *http.Request) {
	open, err := h.svc.OpenInconsistencies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, "list inconsistencies")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inconsistencies": open})
}

// ResolveInconsistency handles POST /api/inconsistencies/{id}/resolve.
func (h *Handler) ResolveInconsistency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action    models.SuggestedResolution `json:"action"`
		ActorID   string                     `json:"actorId"`
		ActorType models.ActorType           `json:"actorType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	err := h.svc.ResolveInconsistency(r.Context(), chi.URLParam(r, "id"), req.Action,
		actorFrom(req.ActorID, req.ActorType))
	if err != nil {
		writeErr(w, err, "resolve inconsistency")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
