package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrPageNotFound is returned when a page lookup matches no row.
var ErrPageNotFound = errors.New("page not found")

// pageColumns selects page rows joined with the content of the current
// version. Pages created but never committed have no current version yet,
// hence the COALESCE.
const pageColumns = `
	p.id, p.title, p.slug, p.author_id, p.status, p.current_version_id,
	p.created_at, p.updated_at, p.category_id,
	COALESCE(v.content, '') AS content,
	COALESCE(v.version_number, 0) AS version_number
	FROM pages p
	LEFT JOIN page_versions v ON v.id = p.current_version_id`

// SQLPageRepository is a concrete implementation of the page repository
// using sqlx.
type SQLPageRepository struct {
	db *sqlx.DB
}

// NewSQLPageRepository creates a new SQLPageRepository.
func NewSQLPageRepository(db *sqlx.DB) *SQLPageRepository {
	return &SQLPageRepository{db: db}
}

// CreatePage inserts a new page and fills in its generated ID. New pages
// start in draft status with no current version; the first successful
// commit publishes them.
func (r *SQLPageRepository) CreatePage(ctx context.Context, page *Page) error {
	now := time.Now().UTC()
	page.CreatedAt = now
	page.UpdatedAt = now
	if page.Status == "" {
		page.Status = PageStatusDraft
	}

	query := `INSERT INTO pages (title, slug, author_id, status, category_id, created_at, updated_at)
		VALUES (:title, :slug, :author_id, :status, :category_id, :created_at, :updated_at)`
	res, err := r.db.NamedExecContext(ctx, query, page)
	if err != nil {
		return fmt.Errorf("failed to execute create page query: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read created page id: %w", err)
	}
	page.ID = id
	return nil
}

// GetPageByTitle retrieves a single page (with its current content) by title.
func (r *SQLPageRepository) GetPageByTitle(ctx context.Context, title string) (*Page, error) {
	var page Page
	query := `SELECT` + pageColumns + ` WHERE p.title = ?`
	if err := r.db.GetContext(ctx, &page, query, title); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("page with title '%s': %w", title, ErrPageNotFound)
		}
		return nil, fmt.Errorf("failed to get page by title: %w", err)
	}
	return &page, nil
}

// GetPageBySlug retrieves a single page (with its current content) by slug.
func (r *SQLPageRepository) GetPageBySlug(ctx context.Context, slug string) (*Page, error) {
	var page Page
	query := `SELECT` + pageColumns + ` WHERE p.slug = ?`
	if err := r.db.GetContext(ctx, &page, query, slug); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("page with slug '%s': %w", slug, ErrPageNotFound)
		}
		return nil, fmt.Errorf("failed to get page by slug: %w", err)
	}
	return &page, nil
}

// GetPageByID retrieves a single page (with its current content) by ID.
func (r *SQLPageRepository) GetPageByID(ctx context.Context, id int64) (*Page, error) {
	var page Page
	query := `SELECT` + pageColumns + ` WHERE p.id = ?`
	if err := r.db.GetContext(ctx, &page, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("page with id %d: %w", id, ErrPageNotFound)
		}
		return nil, fmt.Errorf("failed to get page by id: %w", err)
	}
	return &page, nil
}

// UpdatePage updates the mutable metadata of an existing page. Content is
// never written here; it only changes through the version ledger.
func (r *SQLPageRepository) UpdatePage(ctx context.Context, page *Page) error {
	page.UpdatedAt = time.Now().UTC()
	query := `UPDATE pages SET title = :title, slug = :slug, status = :status,
		category_id = :category_id, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, page)
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no page found to update with id %d: %w", page.ID, ErrPageNotFound)
	}
	return nil
}

// SetStatus transitions a page's lifecycle status.
func (r *SQLPageRepository) SetStatus(ctx context.Context, id int64, status PageStatus) error {
	query := `UPDATE pages SET status = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set page status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no page found with id %d: %w", id, ErrPageNotFound)
	}
	return nil
}

// GetPagesByCategoryID retrieves all pages associated with a given category ID.
func (r *SQLPageRepository) GetPagesByCategoryID(ctx context.Context, categoryID int64) ([]*Page, error) {
	var pages []*Page
	query := `SELECT` + pageColumns + ` WHERE p.category_id = ?`
	if err := r.db.SelectContext(ctx, &pages, query, categoryID); err != nil {
		return nil, fmt.Errorf("failed to get pages by category id: %w", err)
	}
	return pages, nil
}

// GetAllPages retrieves all pages from the database, newest first.
func (r *SQLPageRepository) GetAllPages(ctx context.Context) ([]*Page, error) {
	var pages []*Page
	query := `SELECT` + pageColumns + ` ORDER BY p.updated_at DESC`
	if err := r.db.SelectContext(ctx, &pages, query); err != nil {
		return nil, fmt.Errorf("failed to get all pages: %w", err)
	}
	return pages, nil
}

// DeletePage removes a page from the database by its ID. Versions cascade.
func (r *SQLPageRepository) DeletePage(ctx context.Context, id int64) error {
	query := `DELETE FROM pages WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no page found to delete with id %d: %w", id, ErrPageNotFound)
	}
	return nil
}
