package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

const bindingCols = `id, document_id, canvas_id, block_id, element_id, compound_node_id,
	concept_id, start_off, end_off, binding_type, direction, provenance, confidence,
	review, current_status, anchor_text, metadata, created_at, updated_at`

// InsertBinding persists a new binding.
func (db *DB) InsertBinding(b models.Binding) error {
	metaJSON, err := json.Marshal(b.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal binding metadata: %w", err)
	}
	var start, end sql.NullInt64
	if b.StartOffset != nil {
		start = sql.NullInt64{Int64: int64(*b.StartOffset), Valid: true}
	}
	if b.EndOffset != nil {
		end = sql.NullInt64{Int64: int64(*b.EndOffset), Valid: true}
	}
	var conf sql.NullFloat64
	if b.Confidence != nil {
		conf = sql.NullFloat64{Float64: *b.Confidence, Valid: true}
	}

	_, err = db.conn.Exec(`
		INSERT INTO bindings (`+bindingCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.DocumentID, b.CanvasID, b.BlockID, b.ElementID, b.CompoundNodeID,
		b.ConceptID, start, end, b.BindingType, b.Direction, string(b.Provenance), conf,
		string(b.Review), string(b.CurrentStatus), b.AnchorText, string(metaJSON),
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert binding: %w", err)
	}
	return nil
}

// GetBinding returns a binding by id, or nil when it does not exist.
func (db *DB) GetBinding(id string) (*models.Binding, error) {
	row := db.conn.QueryRow(`SELECT `+bindingCols+` FROM bindings WHERE id = ?`, id)
	b, err := scanBinding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get binding: %w", err)
	}
	return b, nil
}

// ListBindingsByDocument returns every binding for a document, including
// soft-deleted ones, ordered by creation time.
func (db *DB) ListBindingsByDocument(documentID string) ([]models.Binding, error) {
	rows, err := db.conn.Query(`
		SELECT `+bindingCols+` FROM bindings WHERE document_id = ? ORDER BY created_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: list bindings: %w", err)
	}
	defer rows.Close()

	var out []models.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ListActiveBlockBindings returns every binding for a document that references
// a block and is not soft-deleted. Used by reconciliation.
func (db *DB) ListActiveBlockBindings(documentID string) ([]models.Binding, error) {
	rows, err := db.conn.Query(`
		SELECT `+bindingCols+` FROM bindings
		WHERE document_id = ? AND block_id != '' AND current_status != ?
	`, documentID, string(models.StatusDeleted))
	if err != nil {
		return nil, fmt.Errorf("store: list active block bindings: %w", err)
	}
	defer rows.Close()

	var out []models.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// UpdateBindingReview sets the review/approval state of a binding.
func (db *DB) UpdateBindingReview(id string, review models.ReviewState) error {
	res, err := db.conn.Exec(`UPDATE bindings SET review = ? WHERE id = ?`, string(review), id)
	if err != nil {
		return fmt.Errorf("store: update binding review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: binding %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ApplyTransitions applies a batch of status transitions atomically: for each
// entry the binding's current status must still equal the entry's previous
// status (otherwise apperr.ErrConflict — the state changed underneath the
// caller), the status is updated, and exactly one status log row is appended.
// Entries whose binding already carries the target status are skipped without
// a log row, which makes re-requests idempotent. Arbitration transitions also
// settle the review state.
func (db *DB) ApplyTransitions(entries []models.StatusLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entries {
		var current string
		err := tx.QueryRow(`SELECT current_status FROM bindings WHERE id = ?`, e.BindingID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("store: binding %s: %w", e.BindingID, apperr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("store: read binding status: %w", err)
		}
		if models.BindingStatus(current) == e.NewStatus {
			continue // already there: no-op, no log entry
		}
		if models.BindingStatus(current) != e.PreviousStatus {
			return fmt.Errorf("store: binding %s status is %q, expected %q: %w",
				e.BindingID, current, e.PreviousStatus, apperr.ErrConflict)
		}

		review := ""
		switch e.Transition {
		case models.TransitionArbitrationApprove:
			review = string(models.ReviewApproved)
		case models.TransitionArbitrationReject:
			review = string(models.ReviewRejected)
		}
		if review != "" {
			_, err = tx.Exec(`UPDATE bindings SET current_status = ?, review = ?, updated_at = ? WHERE id = ?`,
				string(e.NewStatus), review, e.CreatedAt, e.BindingID)
		} else {
			_, err = tx.Exec(`UPDATE bindings SET current_status = ?, updated_at = ? WHERE id = ?`,
				string(e.NewStatus), e.CreatedAt, e.BindingID)
		}
		if err != nil {
			return fmt.Errorf("store: update binding status: %w", err)
		}

		if err := appendStatusLog(tx, e); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBinding(row scanner) (*models.Binding, error) {
	var b models.Binding
	var start, end sql.NullInt64
	var conf sql.NullFloat64
	var prov, review, status, metaJSON string

	err := row.Scan(&b.ID, &b.DocumentID, &b.CanvasID, &b.BlockID, &b.ElementID,
		&b.CompoundNodeID, &b.ConceptID, &start, &end, &b.BindingType, &b.Direction,
		&prov, &conf, &review, &status, &b.AnchorText, &metaJSON,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if start.Valid {
		v := int(start.Int64)
		b.StartOffset = &v
	}
	if end.Valid {
		v := int(end.Int64)
		b.EndOffset = &v
	}
	if conf.Valid {
		v := conf.Float64
		b.Confidence = &v
	}
	b.Provenance = models.Provenance(prov)
	b.Review = models.ReviewState(review)
	b.CurrentStatus = models.BindingStatus(status)
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &b.Metadata); err != nil {
			b.Metadata = nil
		}
	}
	return &b, nil
}
