// Package bindservice coordinates workspace storage, the projection store,
// arbitration, and event delivery behind one service surface.
package bindservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/annotate"
	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/arbiter"
	"github.com/weftlabs/weft/internal/checksum"
	"github.com/weftlabs/weft/internal/models"
	"github.com/weftlabs/weft/internal/outbox"
	"github.com/weftlabs/weft/internal/projector"
	"github.com/weftlabs/weft/internal/sse"
	"github.com/weftlabs/weft/internal/storage"
	"github.com/weftlabs/weft/internal/store"
)

// DocumentDetail is the full representation of a document.
type DocumentDetail struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Checksum  string         `json:"checksum"`
	Version   int64          `json:"version"`
	Blocks    []models.Block `json:"blocks"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Service coordinates storage, projection, and arbitration operations.
type Service struct {
	store    storage.Provider
	db       store.Store
	proj     *projector.Projector
	arb      *arbiter.Arbiter
	pipeline *annotate.Pipeline
	queue    *outbox.Queue
	broker   *sse.Broker
	logger   *slog.Logger
}

// NewService creates a binding service. queue and broker may be nil in tests.
func NewService(st storage.Provider, db store.Store, proj *projector.Projector, arb *arbiter.Arbiter, pipeline *annotate.Pipeline, queue *outbox.Queue, broker *sse.Broker, logger *slog.Logger) *Service {
	return &Service{store: st, db: db, proj: proj, arb: arb, pipeline: pipeline, queue: queue, broker: broker, logger: logger}
}

// ListDocuments returns metadata for every document in the workspace.
func (s *Service) ListDocuments(_ context.Context) ([]models.DocumentMetadata, error) {
	return s.store.List()
}

// GetDocument reads a document from storage and enriches it with its
// projection state.
func (s *Service) GetDocument(_ context.Context, id string) (*DocumentDetail, error) {
	data, err := s.store.Read(id + storage.DocSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return s.buildDetail(id, data)
}

// PutDocument writes document content with optimistic concurrency on the
// content checksum, then re-projects it.
func (s *Service) PutDocument(ctx context.Context, id string, content []byte, ifMatch string) (*DocumentDetail, error) {
	path := id + storage.DocSuffix
	existing, err := s.store.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if ifMatch != "" {
			return nil, apperr.ErrConflict
		}
	case err != nil:
		return nil, err
	default:
		if ifMatch != "" && ifMatch != checksum.Sum(existing) {
			return nil, apperr.ErrConflict
		}
	}

	if err := s.store.Write(path, content); err != nil {
		return nil, err
	}
	if err := s.proj.Project(ctx, id, content); err != nil {
		return nil, err
	}
	s.notifyDocument("projected", id)
	return s.buildDetail(id, content)
}

// DeleteDocument removes a document from storage and its whole projection,
// bindings and audit log included.
func (s *Service) DeleteDocument(_ context.Context, id string) error {
	if err := s.store.Delete(id + storage.DocSuffix); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if err := s.db.DeleteDocument(id); err != nil {
		return err
	}
	s.notifyDocument("deleted", id)
	return nil
}

// ListBlocks returns the ordered structural projection of a document.
func (s *Service) ListBlocks(_ context.Context, documentID string) ([]models.Block, error) {
	return s.db.ListBlocks(documentID)
}

// Annotate runs one synchronization pass over a document.
func (s *Service) Annotate(ctx context.Context, req annotate.Request) (*annotate.Result, error) {
	res, err := s.pipeline.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, b := range res.Bindings {
		s.publishBinding("binding.created", b)
	}
	return res, nil
}

// CreateBinding persists a caller-supplied binding. Review and lifecycle
// state always start at pending regardless of what the caller sent.
func (s *Service) CreateBinding(_ context.Context, b models.Binding) (*models.Binding, error) {
	if b.DocumentID == "" || b.CanvasID == "" {
		return nil, fmt.Errorf("bindservice: documentId and canvasId required: %w", apperr.ErrValidation)
	}
	if b.BlockID == "" && b.ElementID == "" && b.CompoundNodeID == "" {
		return nil, fmt.Errorf("bindservice: binding needs at least one endpoint: %w", apperr.ErrValidation)
	}
	if b.BlockID != "" {
		ids, err := s.db.BlockIDs(b.DocumentID)
		if err != nil {
			return nil, err
		}
		if _, ok := ids[b.BlockID]; !ok {
			return nil, fmt.Errorf("bindservice: block %s is not in document %s: %w", b.BlockID, b.DocumentID, apperr.ErrValidation)
		}
	}
	if !b.Provenance.Valid() {
		b.Provenance = models.ProvenanceUser
	}

	now := time.Now().UTC()
	b.ID = uuid.NewString()
	b.Review = models.ReviewPending
	b.CurrentStatus = models.StatusPending
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.db.InsertBinding(b); err != nil {
		return nil, err
	}
	s.publishBinding("binding.created", b)
	return &b, nil
}

// GetBinding returns one binding.
func (s *Service) GetBinding(_ context.Context, id string) (*models.Binding, error) {
	b, err := s.db.GetBinding(id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}
	return b, nil
}

// DocumentBindings returns every binding of a document, deleted included.
func (s *Service) DocumentBindings(_ context.Context, documentID string) ([]models.Binding, error) {
	return s.db.ListBindingsByDocument(documentID)
}

// StatusLog returns a binding's audit trail, oldest entry first.
func (s *Service) StatusLog(_ context.Context, bindingID string) ([]models.StatusLogEntry, error) {
	b, err := s.db.GetBinding(bindingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}
	return s.db.ListStatusLog(bindingID)
}

// Transition applies one explicit status transition and fans the change out.
func (s *Service) Transition(ctx context.Context, bindingID string, target models.BindingStatus, tt models.TransitionType, actor arbiter.Actor, reason string) (*models.Binding, error) {
	entry, err := s.arb.Transition(ctx, bindingID, target, tt, actor, reason)
	if err != nil {
		return nil, err
	}
	b, err := s.db.GetBinding(bindingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, apperr.ErrNotFound
	}
	if entry != nil {
		s.publish(models.EventStatusChanged, models.BindingChange{
			BindingID:      b.ID,
			ElementID:      b.ElementID,
			BlockID:        b.BlockID,
			Status:         entry.NewStatus,
			PreviousStatus: entry.PreviousStatus,
		})
	}
	return b, nil
}

// BatchUpdateStatus applies a batch of plain status updates, inferring each
// transition type. This is the flush target for optimistic caches.
func (s *Service) BatchUpdateStatus(ctx context.Context, updates []arbiter.StatusUpdate, actor arbiter.Actor) error {
	entries, err := s.arb.BatchTransition(ctx, updates, actor, "")
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.publish(models.EventStatusChanged, models.BindingChange{
			BindingID:      e.BindingID,
			Status:         e.NewStatus,
			PreviousStatus: e.PreviousStatus,
		})
	}
	return nil
}

// CreateConcept registers a new concept for an owner.
func (s *Service) CreateConcept(_ context.Context, ownerID, title, typ string) (*models.Concept, error) {
	c := models.Concept{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.CreateConcept(c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConcept returns one concept by id.
func (s *Service) GetConcept(_ context.Context, id string) (*models.Concept, error) {
	c, err := s.db.GetConcept(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

// ListConcepts returns an owner's concepts.
func (s *Service) ListConcepts(_ context.Context, ownerID string) ([]models.Concept, error) {
	return s.db.ListConcepts(ownerID)
}

// FindConcepts resolves a set of titles against the owner's registry.
func (s *Service) FindConcepts(_ context.Context, ownerID string, titles []string) ([]models.Concept, error) {
	return s.db.FindConceptsByTitles(ownerID, titles)
}

// ListAnchors returns the anchors of one block, ordered by start offset.
func (s *Service) ListAnchors(_ context.Context, blockID string) ([]models.Anchor, error) {
	return s.db.ListAnchorsByBlock(blockID)
}

// LockAnchor sets or clears the lock on an anchor. A locked anchor is immune
// to automated re-annotation of its interval. Locking an AI-proposed anchor
// records the user's confirmation by promoting its provenance to hybrid.
func (s *Service) LockAnchor(_ context.Context, id string, locked bool) (*models.Anchor, error) {
	a, err := s.db.GetAnchor(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.ErrNotFound
	}

	prov := a.Provenance
	if locked && prov == models.ProvenanceAI {
		prov = models.ProvenanceHybrid
	}
	if err := s.db.UpdateAnchorArbitration(id, prov, locked); err != nil {
		return nil, err
	}
	a.Provenance = prov
	a.Locked = locked
	s.publish("anchor.locked", a)
	return a, nil
}

// RejectAnchor marks an anchor's concept as rejected by the user. Automated
// passes will no longer propose that concept for the owner.
func (s *Service) RejectAnchor(_ context.Context, id string) (*models.Anchor, error) {
	a, err := s.db.GetAnchor(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.ErrNotFound
	}

	if err := s.db.UpdateAnchorArbitration(id, models.ProvenanceUserRejected, false); err != nil {
		return nil, err
	}
	a.Provenance = models.ProvenanceUserRejected
	a.Locked = false
	s.publish("anchor.rejected", a)
	return a, nil
}

// DetectInconsistencies runs existence arbitration detection for a document.
func (s *Service) DetectInconsistencies(ctx context.Context, documentID string, facts []models.ExistenceFacts) ([]models.Inconsistency, error) {
	found, err := s.arb.DetectInconsistencies(ctx, documentID, facts)
	if err != nil {
		return nil, err
	}
	for _, inc := range found {
		s.publish("inconsistency.detected", inc)
	}
	return found, nil
}

// OpenInconsistencies lists unresolved inconsistency records for a document.
func (s *Service) OpenInconsistencies(_ context.Context, documentID string) ([]models.Inconsistency, error) {
	return s.db.ListOpenInconsistencies(documentID)
}

// ResolveInconsistency applies a resolution action to an inconsistency.
func (s *Service) ResolveInconsistency(ctx context.Context, id string, action models.SuggestedResolution, actor arbiter.Actor) error {
	if err := s.arb.Resolve(ctx, id, action, actor); err != nil {
		return err
	}
	s.publish("inconsistency.resolved", map[string]string{"id": id, "action": string(action)})
	return nil
}

// buildDetail constructs a DocumentDetail from raw content without re-reading
// the file.
func (s *Service) buildDetail(id string, data []byte) (*DocumentDetail, error) {
	blocks, err := s.db.ListBlocks(id)
	if err != nil {
		return nil, err
	}
	version, err := s.db.GetDocumentVersion(id)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{
		ID:        id,
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		Version:   version,
		Blocks:    nonNilSlice(blocks),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// publishBinding fans a binding change out to the durable queue and live
// subscribers. Queue persistence happens first; SSE is best-effort.
func (s *Service) publishBinding(eventType string, b models.Binding) {
	s.publish(eventType, b)
}

// publish routes an event through the durable queue when one is configured;
// the queue's subscriber fans it out to live connections. Without a queue the
// event goes straight to the broker.
func (s *Service) publish(eventType string, detail any) {
	if s.queue != nil {
		if err := s.queue.Publish(eventType, detail); err != nil {
			s.logger.Error("bindservice: enqueue event", slog.String("type", eventType), slog.String("error", err.Error()))
		}
		return
	}
	if s.broker != nil {
		s.broker.Publish(sse.Event{Type: eventType, Data: detail})
	}
}

func (s *Service) notifyDocument(kind, id string) {
	if s.broker != nil {
		s.broker.PublishDocumentEvent(kind, id)
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
