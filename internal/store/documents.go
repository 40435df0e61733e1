package store

import (
	"fmt"
	"time"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

// GetDocumentChecksum returns the stored content checksum for a document, or
// empty string if the document has never been projected.
func (db *DB) GetDocumentChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE id = ?`, id).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

// AllDocumentChecksums returns the checksum of every projected document.
func (db *DB) AllDocumentChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("store: all document checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

// GetDocumentVersion returns the current projection version for a document.
// Version 0 means the document has never been projected.
func (db *DB) GetDocumentVersion(id string) (int64, error) {
	var v int64
	err := db.conn.QueryRow(`SELECT version FROM documents WHERE id = ?`, id).Scan(&v)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

// ReplaceBlocks replaces the full block set for a document in one transaction,
// guarded by a projection version check: if the stored version differs from
// expectedVersion the projection is stale and apperr.ErrConflict is returned.
// Anchors owned by blocks that vanish are removed in the same transaction.
// Returns the new projection version.
func (db *DB) ReplaceBlocks(documentID, contentChecksum string, blocks []models.Block, expectedVersion int64) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var current int64
	if err := tx.QueryRow(`SELECT version FROM documents WHERE id = ?`, documentID).Scan(&current); err != nil {
		current = 0
	}
	if current != expectedVersion {
		return 0, fmt.Errorf("store: projection version %d != expected %d: %w", current, expectedVersion, apperr.ErrConflict)
	}

	// Old block set, to cascade anchors of removed blocks.
	oldIDs := make(map[string]struct{})
	rows, err := tx.Query(`SELECT id FROM blocks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("store: old block ids: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		oldIDs[id] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`DELETE FROM blocks WHERE document_id = ?`, documentID); err != nil {
		return 0, fmt.Errorf("store: delete blocks: %w", err)
	}

	if len(blocks) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO blocks (id, document_id, type, plain_text, ord) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("store: prepare block insert: %w", err)
		}
		defer stmt.Close()
		for _, b := range blocks {
			if _, err := stmt.Exec(b.ID, documentID, b.Type, b.PlainText, b.Order); err != nil {
				return 0, fmt.Errorf("store: insert block: %w", err)
			}
			delete(oldIDs, b.ID)
		}
	}

	// Anchors are owned by their block: remove those whose block vanished.
	for id := range oldIDs {
		if _, err := tx.Exec(`DELETE FROM anchors WHERE block_id = ?`, id); err != nil {
			return 0, fmt.Errorf("store: delete anchors of removed block: %w", err)
		}
	}

	next := current + 1
	_, err = tx.Exec(`
		INSERT INTO documents (id, checksum, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			checksum   = excluded.checksum,
			version    = excluded.version,
			updated_at = excluded.updated_at
	`, documentID, contentChecksum, next, time.Now())
	if err != nil {
		return 0, fmt.Errorf("store: upsert document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// DeleteDocument removes a document and everything it owns: blocks, anchors,
// bindings, their status log entries, and inconsistency records. This is the
// only path that deletes binding rows physically.
func (db *DB) DeleteDocument(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM anchors WHERE block_id IN (SELECT id FROM blocks WHERE document_id = ?)`, id)
	_, _ = tx.Exec(`DELETE FROM blocks WHERE document_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM status_log WHERE binding_id IN (SELECT id FROM bindings WHERE document_id = ?)`, id)
	_, _ = tx.Exec(`DELETE FROM inconsistencies WHERE document_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM bindings WHERE document_id = ?`, id)
	_, _ = tx.Exec(`DELETE FROM documents WHERE id = ?`, id)

	return tx.Commit()
}
