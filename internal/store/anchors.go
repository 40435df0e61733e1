package store

import (
	"database/sql"
	"fmt"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

const anchorCols = `id, block_id, owner_id, start_off, end_off, concept_id, concept_title, concept_type, provenance, locked, created_at`

// InsertAnchors inserts a batch of anchors in one transaction.
func (db *DB) InsertAnchors(anchors []models.Anchor) error {
	if len(anchors) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO anchors (` + anchorCols + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare anchor insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range anchors {
		if _, err := stmt.Exec(a.ID, a.BlockID, a.OwnerID, a.Start, a.End,
			a.ConceptID, a.ConceptTitle, a.ConceptType, string(a.Provenance),
			boolToInt(a.Locked), a.CreatedAt); err != nil {
			return fmt.Errorf("store: insert anchor: %w", err)
		}
	}
	return tx.Commit()
}

// ListAnchorsByBlock returns every anchor in a block ordered by start offset.
func (db *DB) ListAnchorsByBlock(blockID string) ([]models.Anchor, error) {
	rows, err := db.conn.Query(`
		SELECT `+anchorCols+` FROM anchors WHERE block_id = ? ORDER BY start_off
	`, blockID)
	if err != nil {
		return nil, fmt.Errorf("store: list anchors: %w", err)
	}
	defer rows.Close()
	return scanAnchors(rows)
}

// GetAnchor returns an anchor by id, or nil when it does not exist.
func (db *DB) GetAnchor(id string) (*models.Anchor, error) {
	rows, err := db.conn.Query(`SELECT `+anchorCols+` FROM anchors WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get anchor: %w", err)
	}
	defer rows.Close()
	out, err := scanAnchors(rows)
	if err != nil {
		return nil, fmt.Errorf("store: get anchor: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// ListRejectedAnchors returns every USER_REJECTED anchor for an owner. Used to
// gate automated re-proposal of rejected concepts.
func (db *DB) ListRejectedAnchors(ownerID string) ([]models.Anchor, error) {
	rows, err := db.conn.Query(`
		SELECT `+anchorCols+` FROM anchors
		WHERE owner_id = ? AND provenance = ?
	`, ownerID, string(models.ProvenanceUserRejected))
	if err != nil {
		return nil, fmt.Errorf("store: list rejected anchors: %w", err)
	}
	defer rows.Close()
	return scanAnchors(rows)
}

// UpdateAnchorArbitration mutates the arbitration fields of an anchor (lock
// flag and provenance). These are the only mutable anchor fields.
func (db *DB) UpdateAnchorArbitration(id string, provenance models.Provenance, locked bool) error {
	res, err := db.conn.Exec(`
		UPDATE anchors SET provenance = ?, locked = ? WHERE id = ?
	`, string(provenance), boolToInt(locked), id)
	if err != nil {
		return fmt.Errorf("store: update anchor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: anchor %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

func scanAnchors(rows *sql.Rows) ([]models.Anchor, error) {
	var out []models.Anchor
	for rows.Next() {
		var a models.Anchor
		var prov string
		var locked int
		if err := rows.Scan(&a.ID, &a.BlockID, &a.OwnerID, &a.Start, &a.End,
			&a.ConceptID, &a.ConceptTitle, &a.ConceptType, &prov, &locked, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Provenance = models.Provenance(prov)
		a.Locked = locked != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
