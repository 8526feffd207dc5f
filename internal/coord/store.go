// Package coord implements the shared coordination store: advisory page and
// section locks, per-user drafts, editor presence, and the ephemeral
// discussion channel. Everything here is advisory and TTL-bounded; expired
// records are swept lazily on read, never by a background process. The
// version ledger deliberately lives elsewhere — nothing in this package
// prevents a client from committing without holding a lock.
package coord

import (
	"fmt"
	"time"

	"go-wiki-collab/internal/config"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed coordination state shared by all workers.
type Store struct {
	db *sqlx.DB

	// now is swapped out by tests to simulate TTL expiry.
	now func() time.Time
}

// Open opens the SQLite coordination store at the configured file path and
// ensures its schema exists.
func Open(cfg config.CoordConfig) (*Store, error) {
	db, err := sqlx.Connect("sqlite", cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coordination store: %w", err)
	}

	// WAL keeps readers from blocking the writers that refresh locks and
	// heartbeats. A single connection serializes our own writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode on coordination store: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS page_locks (
		page_id INTEGER PRIMARY KEY,
		owner_id TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		acquired_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS section_locks (
		page_id INTEGER NOT NULL,
		section_id TEXT NOT NULL,
		section_title TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		owner_name TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (page_id, section_id)
	);
	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT NOT NULL,
		page_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		subcategory TEXT NOT NULL DEFAULT '',
		saved_at INTEGER NOT NULL,
		PRIMARY KEY (page_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS presence (
		page_id INTEGER NOT NULL,
		user_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (page_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS discussion_messages (
		id TEXT PRIMARY KEY,
		page_id INTEGER NOT NULL,
		author_id TEXT NOT NULL,
		author_name TEXT NOT NULL,
		body TEXT NOT NULL,
		section_context TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_section_locks_expiry ON section_locks (expires_at);
	CREATE INDEX IF NOT EXISTS idx_presence_last_seen ON presence (last_seen);
	CREATE INDEX IF NOT EXISTS idx_discussion_page ON discussion_messages (page_id, created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create coordination schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
