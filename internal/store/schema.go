// Package store provides SQLite-backed persistence for Weft: the structural
// block projection, the concept registry, anchors, bindings, the append-only
// status log, and inconsistency records.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	checksum   TEXT NOT NULL DEFAULT '',
	version    INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blocks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	plain_text  TEXT NOT NULL DEFAULT '',
	ord         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_document ON blocks(document_id);

CREATE TABLE IF NOT EXISTS concepts (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL,
	title      TEXT NOT NULL,
	type       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_concepts_identity
	ON concepts(owner_id, title COLLATE NOCASE, type COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS anchors (
	id            TEXT PRIMARY KEY,
	block_id      TEXT NOT NULL,
	owner_id      TEXT NOT NULL,
	start_off     INTEGER NOT NULL,
	end_off       INTEGER NOT NULL,
	concept_id    TEXT NOT NULL DEFAULT '',
	concept_title TEXT NOT NULL DEFAULT '',
	concept_type  TEXT NOT NULL DEFAULT '',
	provenance    TEXT NOT NULL,
	locked        INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_anchors_block ON anchors(block_id);
CREATE INDEX IF NOT EXISTS idx_anchors_owner ON anchors(owner_id);

CREATE TABLE IF NOT EXISTS bindings (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL,
	canvas_id        TEXT NOT NULL,
	block_id         TEXT NOT NULL DEFAULT '',
	element_id       TEXT NOT NULL DEFAULT '',
	compound_node_id TEXT NOT NULL DEFAULT '',
	concept_id       TEXT NOT NULL DEFAULT '',
	start_off        INTEGER,
	end_off          INTEGER,
	binding_type     TEXT NOT NULL DEFAULT '',
	direction        TEXT NOT NULL DEFAULT '',
	provenance       TEXT NOT NULL,
	confidence       REAL,
	review           TEXT NOT NULL DEFAULT 'pending',
	current_status   TEXT NOT NULL DEFAULT 'pending',
	anchor_text      TEXT NOT NULL DEFAULT '',
	metadata         TEXT NOT NULL DEFAULT '{}',
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bindings_document ON bindings(document_id);
CREATE INDEX IF NOT EXISTS idx_bindings_element ON bindings(element_id);
CREATE INDEX IF NOT EXISTS idx_bindings_block ON bindings(block_id);

CREATE TABLE IF NOT EXISTS status_log (
	id              TEXT PRIMARY KEY,
	binding_id      TEXT NOT NULL,
	new_status      TEXT NOT NULL,
	previous_status TEXT NOT NULL,
	transition_type TEXT NOT NULL,
	actor_id        TEXT NOT NULL DEFAULT '',
	actor_type      TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_status_log_binding ON status_log(binding_id);

CREATE TABLE IF NOT EXISTS inconsistencies (
	id          TEXT PRIMARY KEY,
	binding_id  TEXT NOT NULL,
	document_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	suggested   TEXT NOT NULL,
	confidence  REAL NOT NULL,
	detected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME,
	resolved_by TEXT NOT NULL DEFAULT '',
	resolution  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_inconsistencies_document ON inconsistencies(document_id);
`

// DB wraps a sql.DB with store-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
