// Package arbiter implements the existence arbitration system: the binding
// status state machine, its append-only audit trail, and inconsistency
// detection between recorded status and observed reality.
package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
	"github.com/weftlabs/weft/internal/store"
)

// Actor identifies who requested a transition.
type Actor struct {
	ID   string
	Type models.ActorType
}

// SystemActor is used for reconciliation and other engine-initiated transitions.
var SystemActor = Actor{ID: "weft", Type: models.ActorSystem}

// StatusUpdate is one requested status change in a batch.
type StatusUpdate struct {
	BindingID string               `json:"bindingId"`
	Status    models.BindingStatus `json:"status"`
}

// Arbiter owns binding status transitions. Every transition is validated
// against the state machine, applied transactionally, and recorded with
// exactly one status log entry. Re-requesting the current status is an
// idempotent no-op that logs nothing.
type Arbiter struct {
	db     store.Store
	logger *slog.Logger
}

// New creates an arbiter.
func New(db store.Store, logger *slog.Logger) *Arbiter {
	return &Arbiter{db: db, logger: logger}
}

// legalTransitions maps (current status, target status) to permitted
// transition types. "deleted" has no outgoing edges.
var legalTransitions = map[models.BindingStatus]map[models.BindingStatus][]models.TransitionType{
	models.StatusPending: {
		models.StatusVisible: {models.TransitionArbitrationApprove},
		models.StatusDeleted: {models.TransitionArbitrationReject, models.TransitionUserDelete, models.TransitionSystemReconcile},
	},
	models.StatusVisible: {
		models.StatusHidden:  {models.TransitionUserHide},
		models.StatusDeleted: {models.TransitionUserDelete, models.TransitionSystemReconcile, models.TransitionArbitrationReject},
	},
	models.StatusHidden: {
		models.StatusVisible: {models.TransitionUserRestore},
		models.StatusDeleted: {models.TransitionUserDelete, models.TransitionSystemReconcile, models.TransitionArbitrationReject},
	},
}

// InferTransition returns the transition type implied by a plain status
// change request (no explicit type), as issued by batch flushes.
func InferTransition(current, target models.BindingStatus) (models.TransitionType, error) {
	types, ok := legalTransitions[current][target]
	if !ok || len(types) == 0 {
		return "", fmt.Errorf("arbiter: no transition %s -> %s: %w", current, target, apperr.ErrValidation)
	}
	return types[0], nil
}

func legal(current, target models.BindingStatus, tt models.TransitionType) bool {
	for _, t := range legalTransitions[current][target] {
		if t == tt {
			return true
		}
	}
	return false
}

// Transition moves one binding to the target status with an explicit
// transition type. Returns the applied log entry, or nil when the binding is
// already in the target status (no-op, no log entry).
func (a *Arbiter) Transition(_ context.Context, bindingID string, target models.BindingStatus, tt models.TransitionType, actor Actor, reason string) (*models.StatusLogEntry, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("arbiter: unknown status %q: %w", target, apperr.ErrValidation)
	}
	if !tt.Valid() {
		return nil, fmt.Errorf("arbiter: unknown transition type %q: %w", tt, apperr.ErrValidation)
	}

	b, err := a.db.GetBinding(bindingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("arbiter: binding %s: %w", bindingID, apperr.ErrNotFound)
	}
	if b.CurrentStatus == target {
		return nil, nil
	}
	if b.CurrentStatus.Terminal() {
		return nil, fmt.Errorf("arbiter: binding %s: %w", bindingID, apperr.ErrTerminalStatus)
	}
	if !legal(b.CurrentStatus, target, tt) {
		return nil, fmt.Errorf("arbiter: transition %s -> %s via %s not allowed: %w",
			b.CurrentStatus, target, tt, apperr.ErrValidation)
	}

	entry := models.StatusLogEntry{
		ID:             uuid.NewString(),
		BindingID:      bindingID,
		NewStatus:      target,
		PreviousStatus: b.CurrentStatus,
		Transition:     tt,
		ActorID:        actor.ID,
		ActorType:      actor.Type,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if err := a.db.ApplyTransitions([]models.StatusLogEntry{entry}); err != nil {
		return nil, err
	}

	a.logger.Debug("arbiter: transition applied",
		slog.String("binding", bindingID),
		slog.String("from", string(entry.PreviousStatus)),
		slog.String("to", string(target)),
		slog.String("type", string(tt)))
	return &entry, nil
}

// BatchTransition applies a batch of plain status updates in one atomic
// store call, inferring each transition type. Updates targeting a status the
// binding already holds are skipped. Updates for unknown or already-deleted
// bindings, and updates with no legal transition from the current status, are
// skipped with a warning instead of failing the batch: one binding that a
// reconcile or another client settled underneath the caller must not block
// delivery of the rest. Last-write-wins on conflicting updates for the same
// binding within the batch: the final entry decides.
// Returns the log entries actually applied.
func (a *Arbiter) BatchTransition(_ context.Context, updates []StatusUpdate, actor Actor, reason string) ([]models.StatusLogEntry, error) {
	// Coalesce to the latest update per binding, preserving first-seen order.
	latest := make(map[string]models.BindingStatus, len(updates))
	var order []string
	for _, u := range updates {
		if !u.Status.Valid() {
			return nil, fmt.Errorf("arbiter: unknown status %q: %w", u.Status, apperr.ErrValidation)
		}
		if _, ok := latest[u.BindingID]; !ok {
			order = append(order, u.BindingID)
		}
		latest[u.BindingID] = u.Status
	}

	var entries []models.StatusLogEntry
	for _, id := range order {
		target := latest[id]
		b, err := a.db.GetBinding(id)
		if err != nil {
			return nil, err
		}
		if b == nil {
			a.logger.Warn("arbiter: batch update for unknown binding skipped", slog.String("binding", id))
			continue
		}
		if b.CurrentStatus == target {
			continue
		}
		if b.CurrentStatus.Terminal() {
			a.logger.Warn("arbiter: batch update for deleted binding skipped",
				slog.String("binding", id), slog.String("target", string(target)))
			continue
		}
		tt, err := InferTransition(b.CurrentStatus, target)
		if err != nil {
			a.logger.Warn("arbiter: batch update has no legal transition, skipped",
				slog.String("binding", id),
				slog.String("from", string(b.CurrentStatus)),
				slog.String("to", string(target)))
			continue
		}
		entries = append(entries, models.StatusLogEntry{
			ID:             uuid.NewString(),
			BindingID:      id,
			NewStatus:      target,
			PreviousStatus: b.CurrentStatus,
			Transition:     tt,
			ActorID:        actor.ID,
			ActorType:      actor.Type,
			Reason:         reason,
			CreatedAt:      time.Now(),
		})
	}

	if err := a.db.ApplyTransitions(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReconcileDocument transitions every live binding whose block vanished from
// the projection to deleted, one audited system_reconcile transition each.
// An empty valid set skips reconciliation entirely: a document that is still
// loading must not mass-delete its bindings. Returns the applied entries.
func (a *Arbiter) ReconcileDocument(_ context.Context, documentID string, validBlockIDs map[string]struct{}) ([]models.StatusLogEntry, error) {
	if len(validBlockIDs) == 0 {
		a.logger.Debug("arbiter: reconcile skipped, empty block set", slog.String("document", documentID))
		return nil, nil
	}

	bindings, err := a.db.ListActiveBlockBindings(documentID)
	if err != nil {
		return nil, err
	}

	var entries []models.StatusLogEntry
	for _, b := range bindings {
		if _, ok := validBlockIDs[b.BlockID]; ok {
			continue
		}
		entries = append(entries, models.StatusLogEntry{
			ID:             uuid.NewString(),
			BindingID:      b.ID,
			NewStatus:      models.StatusDeleted,
			PreviousStatus: b.CurrentStatus,
			Transition:     models.TransitionSystemReconcile,
			ActorID:        SystemActor.ID,
			ActorType:      SystemActor.Type,
			Reason:         "block removed from document",
			CreatedAt:      time.Now(),
		})
	}
	if len(entries) == 0 {
		return nil, nil
	}

	if err := a.db.ApplyTransitions(entries); err != nil {
		return nil, err
	}
	a.logger.Info("arbiter: reconciled stale bindings",
		slog.String("document", documentID),
		slog.Int("count", len(entries)))
	return entries, nil
}
