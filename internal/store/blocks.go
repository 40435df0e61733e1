package store

import (
	"fmt"

	"github.com/weftlabs/weft/internal/models"
)

// ListBlocks returns the flat block projection of a document in order.
func (db *DB) ListBlocks(documentID string) ([]models.Block, error) {
	rows, err := db.conn.Query(`
		SELECT id, document_id, type, plain_text, ord
		FROM blocks WHERE document_id = ? ORDER BY ord
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: list blocks: %w", err)
	}
	defer rows.Close()

	var out []models.Block
	for rows.Next() {
		var b models.Block
		if err := rows.Scan(&b.ID, &b.DocumentID, &b.Type, &b.PlainText, &b.Order); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BlockIDs returns the set of block ids currently projected for a document.
func (db *DB) BlockIDs(documentID string) (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT id FROM blocks WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("store: block ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}
