// Package annotate runs the synchronization pass that turns analyzer
// proposals into persisted anchors and pending bindings.
package annotate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/models"
	"github.com/weftlabs/weft/internal/nodes"
	"github.com/weftlabs/weft/internal/resolver"
	"github.com/weftlabs/weft/internal/store"
)

// Request carries one synchronization pass over a single document. Proposals
// are grouped by block ID; conflict resolution is per block.
type Request struct {
	DocumentID string                       `json:"documentId"`
	CanvasID   string                       `json:"canvasId"`
	OwnerID    string                       `json:"ownerId"`
	Proposals  map[string][]models.Proposal `json:"proposals"`
}

// Result summarizes a completed pass.
type Result struct {
	Bindings []models.Binding `json:"bindings"`
	Dropped  int              `json:"dropped"`
}

// Pipeline applies proposals in a fixed order: validation, rejected-concept
// filtering, interval conflict resolution against locked anchors, concept
// resolution, then persistence.
type Pipeline struct {
	db     store.Store
	nodes  *nodes.Service
	logger *slog.Logger
}

// NewPipeline creates a synchronization pipeline.
func NewPipeline(db store.Store, nodeSvc *nodes.Service, logger *slog.Logger) *Pipeline {
	return &Pipeline{db: db, nodes: nodeSvc, logger: logger}
}

// Run executes one pass. Proposals for unknown blocks are dropped. Proposals
// that survive resolution but match no concept are also dropped; only fully
// resolved proposals become an anchor plus a pending binding.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	blocks, err := p.db.ListBlocks(req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("annotate: list blocks: %w", err)
	}
	textByBlock := make(map[string]string, len(blocks))
	for _, b := range blocks {
		textByBlock[b.ID] = b.PlainText
	}

	rejected, err := p.db.ListRejectedAnchors(req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("annotate: list rejected anchors: %w", err)
	}

	res := &Result{}
	now := time.Now().UTC()

	for blockID, proposals := range req.Proposals {
		text, ok := textByBlock[blockID]
		if !ok {
			res.Dropped += len(proposals)
			p.logger.Warn("annotate: unknown block",
				slog.String("document", req.DocumentID),
				slog.String("block", blockID),
				slog.Int("dropped", len(proposals)))
			continue
		}

		valid := proposals[:0:0]
		for _, prop := range proposals {
			if vErr := resolver.Validate(prop); vErr != nil {
				res.Dropped++
				p.logger.Debug("annotate: invalid proposal",
					slog.String("block", blockID),
					slog.String("error", vErr.Error()))
				continue
			}
			valid = append(valid, prop)
		}

		valid = resolver.FilterRejected(valid, rejected)

		existing, aErr := p.db.ListAnchorsByBlock(blockID)
		if aErr != nil {
			return nil, fmt.Errorf("annotate: list anchors for %s: %w", blockID, aErr)
		}

		kept := resolver.Resolve(valid, existing)
		res.Dropped += len(valid) - len(kept)

		resolved, rErr := p.nodes.Resolve(ctx, kept, req.OwnerID)
		if rErr != nil {
			return nil, fmt.Errorf("annotate: resolve concepts: %w", rErr)
		}
		res.Dropped += len(kept) - len(resolved)

		// kept is non-overlapping, so (start, end) identifies a proposal
		// uniquely within the block.
		byInterval := make(map[[2]int]models.Proposal, len(kept))
		for _, prop := range kept {
			byInterval[[2]int{prop.Start, prop.End}] = prop
		}

		var anchors []models.Anchor
		for _, r := range resolved {
			prop := byInterval[[2]int{r.Start, r.End}]

			anchor := models.Anchor{
				ID:           uuid.NewString(),
				BlockID:      blockID,
				OwnerID:      req.OwnerID,
				Start:        r.Start,
				End:          r.End,
				ConceptID:    r.ConceptID,
				ConceptTitle: prop.Title,
				ConceptType:  prop.Type,
				Provenance:   models.ProvenanceAI,
				CreatedAt:    now,
			}
			anchors = append(anchors, anchor)

			start, end := r.Start, r.End
			binding := models.Binding{
				ID:            uuid.NewString(),
				DocumentID:    req.DocumentID,
				CanvasID:      req.CanvasID,
				BlockID:       blockID,
				ConceptID:     r.ConceptID,
				StartOffset:   &start,
				EndOffset:     &end,
				BindingType:   "annotation",
				Direction:     "doc-to-canvas",
				Provenance:    models.ProvenanceAI,
				Review:        models.ReviewPending,
				CurrentStatus: models.StatusPending,
				AnchorText:    sliceText(text, r.Start, r.End),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			res.Bindings = append(res.Bindings, binding)
		}

		if len(anchors) > 0 {
			if iErr := p.db.InsertAnchors(anchors); iErr != nil {
				return nil, fmt.Errorf("annotate: insert anchors: %w", iErr)
			}
		}
	}

	for _, b := range res.Bindings {
		if iErr := p.db.InsertBinding(b); iErr != nil {
			return nil, fmt.Errorf("annotate: insert binding: %w", iErr)
		}
	}

	p.logger.Info("annotate: pass complete",
		slog.String("document", req.DocumentID),
		slog.Int("bindings", len(res.Bindings)),
		slog.Int("dropped", res.Dropped))
	return res, nil
}

// sliceText returns text[start:end] clamped to the text's bounds.
func sliceText(text string, start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}
