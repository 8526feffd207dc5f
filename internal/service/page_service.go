package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"go-wiki-collab/internal/data"
	"go-wiki-collab/internal/logger"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// PageRepository defines the persistence operations the services need for
// page rows. data.PageRepository satisfies it.
type PageRepository interface {
	CreatePage(ctx context.Context, page *data.Page) error
	GetPageByTitle(ctx context.Context, title string) (*data.Page, error)
	GetPageBySlug(ctx context.Context, slug string) (*data.Page, error)
	GetPageByID(ctx context.Context, id int64) (*data.Page, error)
	UpdatePage(ctx context.Context, page *data.Page) error
	SetStatus(ctx context.Context, pageID int64, status data.PageStatus) error
	GetAllPages(ctx context.Context) ([]*data.Page, error)
	GetPagesByCategoryID(ctx context.Context, categoryID int64) ([]*data.Page, error)
	DeletePage(ctx context.Context, id int64) error
}

// VersionStore defines the version-ledger operations. data.VersionRepository
// satisfies it.
type VersionStore interface {
	Commit(ctx context.Context, pageID int64, content, authorID, comment string) (*data.Version, error)
	GetCurrent(ctx context.Context, pageID int64) (*data.Version, error)
	GetByNumber(ctx context.Context, pageID int64, number int64) (*data.Version, error)
	CurrentAsOf(ctx context.Context, pageID int64, t time.Time) (*data.Version, error)
	History(ctx context.Context, pageID int64, limit, offset int) ([]*data.Version, error)
	CountForPage(ctx context.Context, pageID int64) (int64, error)
}

// CategoryRepository defines category persistence. data.CategoryRepository
// satisfies it.
type CategoryRepository interface {
	FindByName(ctx context.Context, name string, parentID *int64) (*data.Category, error)
	Save(ctx context.Context, category *data.Category) error
	GetByID(ctx context.Context, id int64) (*data.Category, error)
	GetAll(ctx context.Context) ([]*data.Category, error)
	SearchByName(ctx context.Context, query string) ([]*data.Category, error)
}

// CategoryNode is one top-level category together with its subcategories,
// used by the list view.
type CategoryNode struct {
	Parent   *data.Category
	Children []*data.Category
}

// PageServicer is the read-and-render surface consumed by the handlers.
type PageServicer interface {
	ViewPage(ctx context.Context, title string) (*data.Page, error)
	GetPageByID(ctx context.Context, id int64) (*data.Page, error)
	CreatePage(ctx context.Context, title, content, authorID, category, subcategory string) (*data.Page, error)
	GetAllPages(ctx context.Context) ([]*data.Page, error)
	History(ctx context.Context, pageID int64, limit, offset int) ([]*data.Version, int64, error)
	GetCategoryTree(ctx context.Context) ([]*CategoryNode, error)
	SearchCategories(ctx context.Context, query string) ([]*data.Category, error)
}

// PageService implements PageServicer on top of the repositories.
type PageService struct {
	pages      PageRepository
	versions   VersionStore
	categories CategoryRepository
	markdown   goldmark.Markdown
	sanitizer  *bluemonday.Policy
	log        logger.Logger
}

var _ PageServicer = (*PageService)(nil)

func NewPageService(pages PageRepository, versions VersionStore, categories CategoryRepository, log logger.Logger) *PageService {
	return &PageService{
		pages:      pages,
		versions:   versions,
		categories: categories,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
		sanitizer: bluemonday.UGCPolicy(),
		log:       log,
	}
}

// ViewPage loads a page by title and prepares it for display: markdown is
// rendered and sanitized, category names are resolved.
func (s *PageService) ViewPage(ctx context.Context, title string) (*data.Page, error) {
	page, err := s.pages.GetPageByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	s.renderContent(page)
	s.populateCategoryNames(ctx, page)
	return page, nil
}

func (s *PageService) GetPageByID(ctx context.Context, id int64) (*data.Page, error) {
	page, err := s.pages.GetPageByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.renderContent(page)
	s.populateCategoryNames(ctx, page)
	return page, nil
}

// CreatePage creates the page row and commits its initial version. The
// commit publishes the page, so a freshly created page is immediately
// viewable at version 1.
func (s *PageService) CreatePage(ctx context.Context, title, content, authorID, category, subcategory string) (*data.Page, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ValidationError("title must not be empty")
	}
	if strings.TrimSpace(content) == "" {
		return nil, ValidationError("content must not be empty")
	}

	if existing, err := s.pages.GetPageByTitle(ctx, title); err == nil && existing != nil {
		return nil, ValidationError(fmt.Sprintf("a page titled %q already exists", title))
	}

	categoryID, err := resolveCategory(ctx, s.categories, category, subcategory)
	if err != nil {
		return nil, fmt.Errorf("resolving category: %w", err)
	}

	page := &data.Page{
		Title:      title,
		Slug:       Slugify(title),
		AuthorID:   authorID,
		Status:     data.PageStatusDraft,
		CategoryID: categoryID,
	}
	if err := s.pages.CreatePage(ctx, page); err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}

	version, err := s.versions.Commit(ctx, page.ID, content, authorID, "initial version")
	if err != nil {
		return nil, fmt.Errorf("committing initial version: %w", err)
	}
	page.Status = data.PageStatusPublished
	page.CurrentVersionID = &version.ID
	page.Content = version.Content
	page.VersionNumber = version.VersionNumber
	return page, nil
}

func (s *PageService) GetAllPages(ctx context.Context) ([]*data.Page, error) {
	return s.pages.GetAllPages(ctx)
}

// History returns one page of the version ledger, newest first, plus the
// total number of versions for pagination.
func (s *PageService) History(ctx context.Context, pageID int64, limit, offset int) ([]*data.Version, int64, error) {
	versions, err := s.versions.History(ctx, pageID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.versions.CountForPage(ctx, pageID)
	if err != nil {
		return nil, 0, err
	}
	return versions, total, nil
}

// GetCategoryTree groups all categories into parents with their children.
func (s *PageService) GetCategoryTree(ctx context.Context) ([]*CategoryNode, error) {
	all, err := s.categories.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make(map[int64]*CategoryNode)
	var order []int64
	for _, c := range all {
		if c.ParentID == nil {
			nodes[c.ID] = &CategoryNode{Parent: c}
			order = append(order, c.ID)
		}
	}
	for _, c := range all {
		if c.ParentID == nil {
			continue
		}
		if node, ok := nodes[*c.ParentID]; ok {
			node.Children = append(node.Children, c)
		}
	}
	tree := make([]*CategoryNode, 0, len(order))
	for _, id := range order {
		tree = append(tree, nodes[id])
	}
	return tree, nil
}

func (s *PageService) SearchCategories(ctx context.Context, query string) ([]*data.Category, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	return s.categories.SearchByName(ctx, query)
}

// renderContent converts the stored markdown into sanitized HTML. Stored
// content is never mutated; sanitization happens at display time.
func (s *PageService) renderContent(page *data.Page) {
	if page == nil || page.Content == "" {
		return
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(page.Content), &buf); err != nil {
		s.log.Error(err, "Failed to render markdown; falling back to raw text")
		page.HTMLContent = template.HTML(s.sanitizer.SanitizeBytes([]byte(page.Content)))
		return
	}
	page.HTMLContent = template.HTML(s.sanitizer.SanitizeBytes(buf.Bytes()))
}

// populateCategoryNames resolves the page's category id into display names.
// Failures here degrade the view, they never fail it.
func (s *PageService) populateCategoryNames(ctx context.Context, page *data.Page) {
	if page == nil || page.CategoryID == nil {
		return
	}
	cat, err := s.categories.GetByID(ctx, *page.CategoryID)
	if err != nil || cat == nil {
		if err != nil {
			s.log.Error(err, "Failed to resolve page category")
		}
		return
	}
	if cat.ParentID == nil {
		page.CategoryName = cat.Name
		return
	}
	page.SubcategoryName = cat.Name
	parent, err := s.categories.GetByID(ctx, *cat.ParentID)
	if err != nil || parent == nil {
		return
	}
	page.CategoryName = parent.Name
}

// resolveCategory finds or creates the category pair and returns the id the
// page should reference: the subcategory when present, otherwise the parent.
func resolveCategory(ctx context.Context, categories CategoryRepository, category, subcategory string) (*int64, error) {
	category = strings.TrimSpace(category)
	subcategory = strings.TrimSpace(subcategory)
	if category == "" {
		return nil, nil
	}

	parent, err := categories.FindByName(ctx, category, nil)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		parent = &data.Category{Name: category}
		if err := categories.Save(ctx, parent); err != nil {
			return nil, err
		}
	}
	if subcategory == "" {
		return &parent.ID, nil
	}

	child, err := categories.FindByName(ctx, subcategory, &parent.ID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		child = &data.Category{Name: subcategory, ParentID: &parent.ID}
		if err := categories.Save(ctx, child); err != nil {
			return nil, err
		}
	}
	return &child.ID, nil
}

// Slugify turns a title into a URL-safe slug.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastDash := true
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
