package coord

import (
	"context"
	"fmt"
	"time"
)

// Editor is one entry in a page's ephemeral presence set.
type Editor struct {
	PageID      int64  `db:"page_id"`
	UserID      string `db:"user_id"`
	DisplayName string `db:"display_name"`
	LastSeen    int64  `db:"last_seen"`
}

// Heartbeat upserts the caller into the page's presence set, resetting the
// activity window. Entries beyond maxAge anywhere in the store are swept at
// the same time; that sweep is memory hygiene only, correctness relies on
// the read-side window filter.
func (s *Store) Heartbeat(ctx context.Context, pageID int64, userID, displayName string, maxAge time.Duration) error {
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO presence (page_id, user_id, display_name, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id, user_id) DO UPDATE SET
			display_name = excluded.display_name,
			last_seen = excluded.last_seen`,
		pageID, userID, displayName, now.Unix()); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM presence WHERE last_seen < ?`, now.Add(-maxAge).Unix()); err != nil {
		return fmt.Errorf("failed to sweep stale presence: %w", err)
	}
	return nil
}

// ActiveEditors returns who is currently considered active on a page.
// Entries whose last heartbeat falls outside the window are pruned first
// and the pruned set persists, so every read leaves the store clean.
func (s *Store) ActiveEditors(ctx context.Context, pageID int64, window time.Duration, excludeUserID string) ([]*Editor, error) {
	cutoff := s.now().Add(-window).Unix()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM presence WHERE page_id = ? AND last_seen < ?`, pageID, cutoff); err != nil {
		return nil, fmt.Errorf("failed to prune presence: %w", err)
	}

	var editors []*Editor
	if err := s.db.SelectContext(ctx, &editors,
		`SELECT * FROM presence WHERE page_id = ? AND user_id != ? ORDER BY display_name`,
		pageID, excludeUserID); err != nil {
		return nil, fmt.Errorf("failed to list active editors: %w", err)
	}
	return editors, nil
}

// RemovePresence explicitly unregisters a user from a page, e.g. when they
// navigate away. Row-per-user storage means an emptied set simply has no
// rows left.
func (s *Store) RemovePresence(ctx context.Context, pageID int64, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM presence WHERE page_id = ? AND user_id = ?`, pageID, userID); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}
