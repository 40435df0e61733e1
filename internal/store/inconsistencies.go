package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

// InsertInconsistencies persists a batch of detected inconsistency records.
func (db *DB) InsertInconsistencies(recs []models.Inconsistency) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO inconsistencies (id, binding_id, document_id, kind, suggested, confidence, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare inconsistency insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(r.ID, r.BindingID, r.DocumentID, string(r.Kind),
			string(r.Suggested), r.Confidence, r.DetectedAt); err != nil {
			return fmt.Errorf("store: insert inconsistency: %w", err)
		}
	}
	return tx.Commit()
}

// GetInconsistency returns an inconsistency record by id, or nil when missing.
func (db *DB) GetInconsistency(id string) (*models.Inconsistency, error) {
	row := db.conn.QueryRow(`
		SELECT id, binding_id, document_id, kind, suggested, confidence,
			detected_at, resolved_at, resolved_by, resolution
		FROM inconsistencies WHERE id = ?
	`, id)
	r, err := scanInconsistency(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get inconsistency: %w", err)
	}
	return r, nil
}

// ListOpenInconsistencies returns unresolved records for a document.
func (db *DB) ListOpenInconsistencies(documentID string) ([]models.Inconsistency, error) {
	rows, err := db.conn.Query(`
		SELECT id, binding_id, document_id, kind, suggested, confidence,
			detected_at, resolved_at, resolved_by, resolution
		FROM inconsistencies
		WHERE document_id = ? AND resolved_at IS NULL
		ORDER BY detected_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: list open inconsistencies: %w", err)
	}
	defer rows.Close()

	var out []models.Inconsistency
	for rows.Next() {
		r, err := scanInconsistency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ResolveInconsistency records the resolution of an inconsistency. Records are
// mutable only this way; resolving twice returns apperr.ErrConflict.
func (db *DB) ResolveInconsistency(id, resolution, resolvedBy string, at time.Time) error {
	res, err := db.conn.Exec(`
		UPDATE inconsistencies SET resolved_at = ?, resolved_by = ?, resolution = ?
		WHERE id = ? AND resolved_at IS NULL
	`, at, resolvedBy, resolution, id)
	if err != nil {
		return fmt.Errorf("store: resolve inconsistency: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		rec, err := db.GetInconsistency(id)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("store: inconsistency %s: %w", id, apperr.ErrNotFound)
		}
		return fmt.Errorf("store: inconsistency %s already resolved: %w", id, apperr.ErrConflict)
	}
	return nil
}

func scanInconsistency(row scanner) (*models.Inconsistency, error) {
	var r models.Inconsistency
	var kind, suggested string
	var resolvedAt sql.NullTime
	err := row.Scan(&r.ID, &r.BindingID, &r.DocumentID, &kind, &suggested,
		&r.Confidence, &r.DetectedAt, &resolvedAt, &r.ResolvedBy, &r.Resolution)
	if err != nil {
		return nil, err
	}
	r.Kind = models.InconsistencyKind(kind)
	r.Suggested = models.SuggestedResolution(suggested)
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return &r, nil
}
