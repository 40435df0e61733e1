package projector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/internal/arbiter"
	"github.com/weftlabs/weft/internal/checksum"
	"github.com/weftlabs/weft/internal/store"
)

// Projector keeps the structural block projection of each document in step
// with its rich source content.
type Projector struct {
	db     store.Store
	arb    *arbiter.Arbiter
	logger *slog.Logger
}

// New creates a projector.
func New(db store.Store, arb *arbiter.Arbiter, logger *slog.Logger) *Projector {
	return &Projector{db: db, arb: arb, logger: logger}
}

// Project re-derives the block list for a document from its rich content and
// replaces the stored set in one transaction guarded by a projection version
// check: a projection racing a newer one is rejected with ErrConflict rather
// than clobbering it. Content whose checksum matches the stored projection is
// a no-op, so duplicate filesystem events and resubmitted writes do not burn
// projection versions. Afterwards every live binding referencing a vanished
// block is transitioned to deleted (system_reconcile), unless the new block
// set is empty — a still-loading document must not mass-delete its bindings.
func (p *Projector) Project(ctx context.Context, documentID string, content []byte) error {
	cs := checksum.Sum(content)
	stored, err := p.db.GetDocumentChecksum(documentID)
	if err != nil {
		return err
	}
	if stored == cs {
		p.logger.Debug("projector: content unchanged", slog.String("document", documentID))
		return nil
	}

	blocks, err := ParseContent(documentID, content)
	if err != nil {
		return err
	}

	version, err := p.db.GetDocumentVersion(documentID)
	if err != nil {
		return err
	}

	if _, err := p.db.ReplaceBlocks(documentID, cs, blocks, version); err != nil {
		return fmt.Errorf("projector: replace blocks for %s: %w", documentID, err)
	}

	valid := make(map[string]struct{}, len(blocks))
	for _, b := range blocks {
		valid[b.ID] = struct{}{}
	}
	if _, err := p.arb.ReconcileDocument(ctx, documentID, valid); err != nil {
		return fmt.Errorf("projector: reconcile %s: %w", documentID, err)
	}

	p.logger.Debug("projector: projected",
		slog.String("document", documentID),
		slog.Int("blocks", len(blocks)))
	return nil
}
