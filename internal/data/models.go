package data

import (
	"html/template"
	"time"
)

// PageStatus is the lifecycle state of a page.
type PageStatus string

const (
	PageStatusDraft     PageStatus = "draft"
	PageStatusPending   PageStatus = "pending"
	PageStatusPublished PageStatus = "published"
	// PageStatusConflict blocks further direct commits until a privileged
	// actor resolves the page or the author forces an overwrite.
	PageStatusConflict PageStatus = "conflict"
)

// Page represents a single wiki page in the database. Content lives in the
// version ledger; the Content and VersionNumber fields are populated only
// by queries that join the current version.
type Page struct {
	ID               int64      `db:"id"`
	Title            string     `db:"title"`
	Slug             string     `db:"slug"`
	AuthorID         string     `db:"author_id"`
	Status           PageStatus `db:"status"`
	CurrentVersionID *int64     `db:"current_version_id"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	CategoryID       *int64     `db:"category_id"`

	Content         string        `db:"content"`
	VersionNumber   int64         `db:"version_number"`
	HTMLContent     template.HTML `db:"-"`
	CategoryName    string        `db:"-"`
	SubcategoryName string        `db:"-"`
}

// Version is an immutable snapshot of a page's content. Rows are only ever
// appended; the is_current flag is the single mutable bit and exactly one
// version per page carries it.
type Version struct {
	ID            int64     `db:"id"`
	PageID        int64     `db:"page_id"`
	VersionNumber int64     `db:"version_number"`
	Content       string    `db:"content"`
	AuthorID      string    `db:"author_id"`
	Comment       string    `db:"comment"`
	IsCurrent     bool      `db:"is_current"`
	ChangeSummary string    `db:"change_summary"` // JSON {"added":[...],"removed":[...]}
	CreatedAt     time.Time `db:"created_at"`
}

// Category represents a category for wiki pages.
type Category struct {
	ID       int64  `db:"id"`
	Name     string `db:"name"`
	ParentID *int64 `db:"parent_id"`
}
