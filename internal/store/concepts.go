package store

import (
	"fmt"
	"strings"

	"github.com/weftlabs/weft/internal/apperr"
	"github.com/weftlabs/weft/internal/models"
)

// CreateConcept inserts a new concept. Identity (owner, title, type) is
// case-insensitively unique; a duplicate returns apperr.ErrAlreadyExists.
func (db *DB) CreateConcept(c models.Concept) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing string
	err = tx.QueryRow(`
		SELECT id FROM concepts
		WHERE owner_id = ? AND title = ? COLLATE NOCASE AND type = ? COLLATE NOCASE
	`, c.OwnerID, c.Title, c.Type).Scan(&existing)
	if err == nil {
		return fmt.Errorf("store: concept %q/%q: %w", c.Title, c.Type, apperr.ErrAlreadyExists)
	}

	_, err = tx.Exec(`
		INSERT INTO concepts (id, owner_id, title, type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, c.Title, c.Type, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert concept: %w", err)
	}
	return tx.Commit()
}

// GetConcept returns a concept by id, or nil when it does not exist.
func (db *DB) GetConcept(id string) (*models.Concept, error) {
	var c models.Concept
	err := db.conn.QueryRow(`
		SELECT id, owner_id, title, type, created_at FROM concepts WHERE id = ?
	`, id).Scan(&c.ID, &c.OwnerID, &c.Title, &c.Type, &c.CreatedAt)
	if err != nil {
		return nil, nil
	}
	return &c, nil
}

// FindConceptsByTitles batch-fetches every concept owned by ownerID whose
// title is in titles (case-insensitive). One query, not N.
func (db *DB) FindConceptsByTitles(ownerID string, titles []string) ([]models.Concept, error) {
	if len(titles) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(titles))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(titles)+1)
	args = append(args, ownerID)
	for _, t := range titles {
		args = append(args, t)
	}

	rows, err := db.conn.Query(`
		SELECT id, owner_id, title, type, created_at
		FROM concepts
		WHERE owner_id = ? AND title COLLATE NOCASE IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find concepts by titles: %w", err)
	}
	defer rows.Close()

	var out []models.Concept
	for rows.Next() {
		var c models.Concept
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Type, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListConcepts returns every concept owned by ownerID, ordered by title.
func (db *DB) ListConcepts(ownerID string) ([]models.Concept, error) {
	rows, err := db.conn.Query(`
		SELECT id, owner_id, title, type, created_at
		FROM concepts WHERE owner_id = ? ORDER BY title
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: list concepts: %w", err)
	}
	defer rows.Close()

	var out []models.Concept
	for rows.Next() {
		var c models.Concept
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Type, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountConcepts returns the number of concepts owned by ownerID.
func (db *DB) CountConcepts(ownerID string) (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM concepts WHERE owner_id = ?`, ownerID).Scan(&n)
	return n, err
}
