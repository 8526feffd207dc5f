package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-wiki-collab/internal/diff"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrVersionNotFound is returned when a version lookup matches no row.
	ErrVersionNotFound = errors.New("version not found")

	// ErrConcurrentWrite is returned when another commit raced between the
	// version number allocation and the insert. It is transient: the caller
	// retries the commit against a freshly read current version.
	ErrConcurrentWrite = errors.New("concurrent write detected")
)

// VersionRepository maintains the append-only, per-page revision ledger.
// Version numbers are gap-free and strictly increasing, starting at 1, and
// exactly one version per page is current at any time. Both invariants are
// enforced inside a single transaction backed by the unique constraint on
// (page_id, version_number).
type VersionRepository struct {
	db *sqlx.DB
}

// NewVersionRepository creates a new VersionRepository.
func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

const versionColumns = `id, page_id, version_number, content, author_id, comment, is_current, change_summary, created_at`

// Commit appends a new version with number currentMax+1, flips is_current
// to the new row, and points the page at it — all in one transaction. The
// stored change summary is the line-set difference against the previous
// current version.
func (r *VersionRepository) Commit(ctx context.Context, pageID int64, content, authorID, comment string) (*Version, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	var prev Version
	prevContent := ""
	nextNumber := int64(1)
	err = tx.GetContext(ctx, &prev,
		`SELECT `+versionColumns+` FROM page_versions WHERE page_id = ? AND is_current = 1`, pageID)
	switch {
	case err == nil:
		prevContent = prev.Content
		nextNumber = prev.VersionNumber + 1
	case err == sql.ErrNoRows:
		// First commit for this page.
	default:
		return nil, fmt.Errorf("failed to read current version: %w", err)
	}

	summary, err := json.Marshal(diff.Lines(prevContent, content))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE page_versions SET is_current = 0 WHERE page_id = ? AND is_current = 1`, pageID); err != nil {
		return nil, fmt.Errorf("failed to clear current flag: %w", err)
	}

	version := &Version{
		PageID:        pageID,
		VersionNumber: nextNumber,
		Content:       content,
		AuthorID:      authorID,
		Comment:       comment,
		IsCurrent:     true,
		ChangeSummary: string(summary),
		CreatedAt:     time.Now().UTC(),
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO page_versions (page_id, version_number, content, author_id, comment, is_current, change_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		version.PageID, version.VersionNumber, version.Content, version.AuthorID,
		version.Comment, version.ChangeSummary, version.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("version %d for page %d already taken: %w", nextNumber, pageID, ErrConcurrentWrite)
		}
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read created version id: %w", err)
	}
	version.ID = id

	if _, err := tx.ExecContext(ctx,
		`UPDATE pages SET current_version_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		version.ID, PageStatusPublished, version.CreatedAt, pageID); err != nil {
		return nil, fmt.Errorf("failed to update page pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit version transaction: %w", err)
	}
	return version, nil
}

// GetCurrent retrieves the version currently published for a page.
func (r *VersionRepository) GetCurrent(ctx context.Context, pageID int64) (*Version, error) {
	var v Version
	err := r.db.GetContext(ctx, &v,
		`SELECT `+versionColumns+` FROM page_versions WHERE page_id = ? AND is_current = 1`, pageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no current version for page %d: %w", pageID, ErrVersionNotFound)
		}
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	return &v, nil
}

// GetByNumber retrieves a specific version of a page.
func (r *VersionRepository) GetByNumber(ctx context.Context, pageID, number int64) (*Version, error) {
	var v Version
	err := r.db.GetContext(ctx, &v,
		`SELECT `+versionColumns+` FROM page_versions WHERE page_id = ? AND version_number = ?`,
		pageID, number)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("version %d of page %d: %w", number, pageID, ErrVersionNotFound)
		}
		return nil, fmt.Errorf("failed to get version by number: %w", err)
	}
	return &v, nil
}

// CurrentAsOf retrieves the version that was current at the given instant,
// i.e. the newest version created at or before it. Used to recover the base
// of an edit session from the client's last_check timestamp.
func (r *VersionRepository) CurrentAsOf(ctx context.Context, pageID int64, t time.Time) (*Version, error) {
	var v Version
	err := r.db.GetContext(ctx, &v,
		`SELECT `+versionColumns+` FROM page_versions WHERE page_id = ? AND created_at <= ?
		 ORDER BY version_number DESC LIMIT 1`, pageID, t.UTC())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no version of page %d existed at %s: %w", pageID, t.Format(time.RFC3339), ErrVersionNotFound)
		}
		return nil, fmt.Errorf("failed to get version as of time: %w", err)
	}
	return &v, nil
}

// History retrieves versions of a page, newest first, with pagination.
func (r *VersionRepository) History(ctx context.Context, pageID int64, limit, offset int) ([]*Version, error) {
	var versions []*Version
	err := r.db.SelectContext(ctx, &versions,
		`SELECT `+versionColumns+` FROM page_versions WHERE page_id = ?
		 ORDER BY version_number DESC LIMIT ? OFFSET ?`, pageID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get version history: %w", err)
	}
	return versions, nil
}

// CountForPage returns how many versions a page has accumulated.
func (r *VersionRepository) CountForPage(ctx context.Context, pageID int64) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM page_versions WHERE page_id = ?`, pageID); err != nil {
		return 0, fmt.Errorf("failed to count versions: %w", err)
	}
	return n, nil
}

// isUniqueViolation matches duplicate-key errors from both MySQL (prod)
// and SQLite (tests).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
