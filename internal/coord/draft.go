package coord

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Draft is a per-(page, user) scratch copy of in-progress content. It is a
// convenience cache, not part of the version history; losing one is an
// inconvenience, never a correctness problem.
type Draft struct {
	ID          string `db:"id"`
	PageID      int64  `db:"page_id"`
	UserID      string `db:"user_id"`
	Title       string `db:"title"`
	Content     string `db:"content"`
	Category    string `db:"category"`
	Subcategory string `db:"subcategory"`
	SavedAt     int64  `db:"saved_at"`
}

// SavedTime returns the last-saved timestamp as a time.Time.
func (d *Draft) SavedTime() time.Time { return time.Unix(d.SavedAt, 0).UTC() }

// SaveDraft upserts the caller's draft for a page, always overwriting prior
// content and stamping the save time. A draft keeps its id across resaves.
func (s *Store) SaveDraft(ctx context.Context, d *Draft) error {
	d.ID = uuid.NewString()
	d.SavedAt = s.now().Unix()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO drafts (id, page_id, user_id, title, content, category, subcategory, saved_at)
		VALUES (:id, :page_id, :user_id, :title, :content, :category, :subcategory, :saved_at)
		ON CONFLICT(page_id, user_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			category = excluded.category,
			subcategory = excluded.subcategory,
			saved_at = excluded.saved_at`, d)
	if err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	if err := s.db.GetContext(ctx, &d.ID,
		`SELECT id FROM drafts WHERE page_id = ? AND user_id = ?`, d.PageID, d.UserID); err != nil {
		return fmt.Errorf("failed to read back draft id: %w", err)
	}
	return nil
}

// GetDraft retrieves the caller's draft for a page. A missing draft is not
// an error.
func (s *Store) GetDraft(ctx context.Context, pageID int64, userID string) (*Draft, error) {
	var d Draft
	err := s.db.GetContext(ctx, &d,
		`SELECT * FROM drafts WHERE page_id = ? AND user_id = ?`, pageID, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}
	return &d, nil
}

// DeleteDraft removes the caller's draft for a page, reporting whether one
// existed. Called after a successful commit so stale drafts cannot
// resurface old content.
func (s *Store) DeleteDraft(ctx context.Context, pageID int64, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM drafts WHERE page_id = ? AND user_id = ?`, pageID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListDraftsForUser returns all of a user's drafts across pages, newest
// first.
func (s *Store) ListDraftsForUser(ctx context.Context, userID string) ([]*Draft, error) {
	var drafts []*Draft
	if err := s.db.SelectContext(ctx, &drafts,
		`SELECT * FROM drafts WHERE user_id = ? ORDER BY saved_at DESC`, userID); err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}
