package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

// Detection confidences per classification. Ghost bindings are near-certain
// (both counterparts observed gone); a status mismatch on a terminal binding
// needs a human eye.
const (
	confidenceGhost       = 0.95
	confidenceOrphaned    = 0.9
	confidenceMissingMark = 0.7
	confidenceMismatch    = 0.5
)

// DetectInconsistencies compares each binding's recorded status against the
// observed existence facts reported by the editor/canvas side, classifies
// mismatches, and persists one inconsistency record per finding. Facts for
// unknown bindings are ignored. Detection never mutates a binding.
func (a *Arbiter) DetectInconsistencies(_ context.Context, documentID string, facts []models.ExistenceFacts) ([]models.Inconsistency, error) {
	now := time.Now()
	var found []models.Inconsistency

	for _, f := range facts {
		b, err := a.db.GetBinding(f.BindingID)
		if err != nil {
			return nil, err
		}
		if b == nil || b.DocumentID != documentID {
			continue
		}

		rec, ok := classify(b.CurrentStatus, f)
		if !ok {
			continue
		}
		rec.ID = uuid.NewString()
		rec.BindingID = b.ID
		rec.DocumentID = documentID
		rec.DetectedAt = now
		found = append(found, rec)
	}

	if err := a.db.InsertInconsistencies(found); err != nil {
		return nil, err
	}
	if len(found) > 0 {
		a.logger.Info("arbiter: inconsistencies detected",
			slog.String("document", documentID),
			slog.Int("count", len(found)))
	}
	return found, nil
}

// classify maps (recorded status, observed facts) to an inconsistency kind.
// The ghost check precedes the orphan check: both sides gone outranks one.
func classify(status models.BindingStatus, f models.ExistenceFacts) (models.Inconsistency, bool) {
	alive := status != models.StatusDeleted

	switch {
	case alive && !f.ElementExists && !f.MarkExists:
		return models.Inconsistency{
			Kind:       models.InconsistencyGhostBinding,
			Suggested:  models.ResolveDeleteBinding,
			Confidence: confidenceGhost,
		}, true
	case alive && !f.ElementExists:
		return models.Inconsistency{
			Kind:       models.InconsistencyOrphaned,
			Suggested:  models.ResolveDeleteBinding,
			Confidence: confidenceOrphaned,
		}, true
	case alive && !f.MarkExists:
		return models.Inconsistency{
			Kind:       models.InconsistencyMissingMark,
			Suggested:  models.ResolveDemoteToPending,
			Confidence: confidenceMissingMark,
		}, true
	case !alive && (f.ElementExists || f.MarkExists):
		return models.Inconsistency{
			Kind:       models.InconsistencyStatusMismatch,
			Suggested:  models.ResolveManualReview,
			Confidence: confidenceMismatch,
		}, true
	}
	return models.Inconsistency{}, false
}

// Resolve applies a resolution to an inconsistency record. Actions inside
// this engine's authority run as audited status transitions; actions owned by
// the canvas side (restore-element) or a human (manual-review) are recorded
// as the decision and left for the external collaborator. Resolving is the
// only mutation a record admits; a second resolve returns ErrConflict.
func (a *Arbiter) Resolve(ctx context.Context, inconsistencyID string, action models.SuggestedResolution, actor Actor) error {
	rec, err := a.db.GetInconsistency(inconsistencyID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("arbiter: inconsistency %s: %w", inconsistencyID, apperr.ErrNotFound)
	}
	if rec.ResolvedAt != nil {
		return fmt.Errorf("arbiter: inconsistency %s already resolved: %w", inconsistencyID, apperr.ErrConflict)
	}

	switch action {
	case models.ResolveDeleteBinding, models.ResolveUpdateStatus:
		tt := models.TransitionUserDelete
		if actor.Type == models.ActorSystem {
			tt = models.TransitionSystemReconcile
		}
		if _, err := a.Transition(ctx, rec.BindingID, models.StatusDeleted, tt, actor,
			fmt.Sprintf("inconsistency %s: %s", rec.Kind, action)); err != nil {
			return err
		}
	case models.ResolveDemoteToPending:
		// The lifecycle machine has no edge back to pending; demotion reopens
		// the review state instead.
		if err := a.db.UpdateBindingReview(rec.BindingID, models.ReviewPending); err != nil {
			return err
		}
	case models.ResolveRestoreElement, models.ResolveManualReview:
		// Recorded only; acted on outside this engine.
	default:
		return fmt.Errorf("arbiter: unknown resolution %q: %w", action, apperr.ErrValidation)
	}

	return a.db.ResolveInconsistency(inconsistencyID, string(action), actor.ID, time.Now())
}
