package store

import (
	"database/sql"
	"fmt"

	"github.com/weftlabs/weft/internal/models"
)

func appendStatusLog(tx *sql.Tx, e models.StatusLogEntry) error {
	_, err := tx.Exec(`
		INSERT INTO status_log (id, binding_id, new_status, previous_status,
			transition_type, actor_id, actor_type, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.BindingID, string(e.NewStatus), string(e.PreviousStatus),
		string(e.Transition), e.ActorID, string(e.ActorType), e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: append status log: %w", err)
	}
	return nil
}

// ListStatusLog returns the audit trail for a binding, oldest first.
func (db *DB) ListStatusLog(bindingID string) ([]models.StatusLogEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, binding_id, new_status, previous_status, transition_type,
			actor_id, actor_type, reason, created_at
		FROM status_log WHERE binding_id = ? ORDER BY created_at, id
	`, bindingID)
	if err != nil {
		return nil, fmt.Errorf("store: list status log: %w", err)
	}
	defer rows.Close()

	var out []models.StatusLogEntry
	for rows.Next() {
		var e models.StatusLogEntry
		var ns, ps, tt, at string
		if err := rows.Scan(&e.ID, &e.BindingID, &ns, &ps, &tt, &e.ActorID, &at, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.NewStatus = models.BindingStatus(ns)
		e.PreviousStatus = models.BindingStatus(ps)
		e.Transition = models.TransitionType(tt)
		e.ActorType = models.ActorType(at)
		out = append(out, e)
	}
	return out, rows.Err()
}
