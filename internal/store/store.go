package store

import (
	"time"

	"github.com/weftlabs/weft/internal/models"
)

// Store defines the interface for Weft persistence operations. Consumers
// should depend on this interface rather than the concrete *DB type to
// facilitate testing with fakes.
type Store interface {
	// Documents and blocks.
	GetDocumentChecksum(id string) (string, error)
	AllDocumentChecksums() (map[string]string, error)
	GetDocumentVersion(id string) (int64, error)
	ReplaceBlocks(documentID, contentChecksum string, blocks []models.Block, expectedVersion int64) (int64, error)
	DeleteDocument(id string) error
	ListBlocks(documentID string) ([]models.Block, error)
	BlockIDs(documentID string) (map[string]struct{}, error)

	// Concepts.
	CreateConcept(c models.Concept) error
	GetConcept(id string) (*models.Concept, error)
	FindConceptsByTitles(ownerID string, titles []string) ([]models.Concept, error)
	ListConcepts(ownerID string) ([]models.Concept, error)
	CountConcepts(ownerID string) (int, error)

	// Anchors.
	InsertAnchors(anchors []models.Anchor) error
	GetAnchor(id string) (*models.Anchor, error)
	ListAnchorsByBlock(blockID string) ([]models.Anchor, error)
	ListRejectedAnchors(ownerID string) ([]models.Anchor, error)
	UpdateAnchorArbitration(id string, provenance models.Provenance, locked bool) error

	// Bindings and audit.
	InsertBinding(b models.Binding) error
	GetBinding(id string) (*models.Binding, error)
	ListBindingsByDocument(documentID string) ([]models.Binding, error)
	ListActiveBlockBindings(documentID string) ([]models.Binding, error)
	UpdateBindingReview(id string, review models.ReviewState) error
	ApplyTransitions(entries []models.StatusLogEntry) error
	ListStatusLog(bindingID string) ([]models.StatusLogEntry, error)

	// Inconsistencies.
	InsertInconsistencies(recs []models.Inconsistency) error
	GetInconsistency(id string) (*models.Inconsistency, error)
	ListOpenInconsistencies(documentID string) ([]models.Inconsistency, error)
	ResolveInconsistency(id, resolution, resolvedBy string, at time.Time) error

	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
