package data

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// CategoryRepository handles database operations for categories.
type CategoryRepository struct {
	DB *sqlx.DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{DB: db}
}

// FindByName finds a category by name and parent ID.
func (r *CategoryRepository) FindByName(ctx context.Context, name string, parentID *int64) (*Category, error) {
	var category Category
	var err error
	if parentID == nil {
		err = r.DB.GetContext(ctx, &category, "SELECT * FROM categories WHERE name = ? AND parent_id IS NULL", name)
	} else {
		err = r.DB.GetContext(ctx, &category, "SELECT * FROM categories WHERE name = ? AND parent_id = ?", name, *parentID)
	}

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found is not an error
		}
		return nil, err
	}
	return &category, nil
}

// SearchByName searches for categories by name.
func (r *CategoryRepository) SearchByName(ctx context.Context, query string) ([]*Category, error) {
	var categories []*Category
	err := r.DB.SelectContext(ctx, &categories, "SELECT * FROM categories WHERE name LIKE ?", "%"+query+"%")
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// GetAll retrieves all categories from the database.
func (r *CategoryRepository) GetAll(ctx context.Context) ([]*Category, error) {
	var categories []*Category
	err := r.DB.SelectContext(ctx, &categories, "SELECT * FROM categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// Save creates a new category and fills in its generated ID.
func (r *CategoryRepository) Save(ctx context.Context, category *Category) error {
	res, err := r.DB.NamedExecContext(ctx, "INSERT INTO categories (name, parent_id) VALUES (:name, :parent_id)", category)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	category.ID = id
	return nil
}

// GetByID finds a category by its ID.
func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*Category, error) {
	var category Category
	err := r.DB.GetContext(ctx, &category, "SELECT * FROM categories WHERE id = ?", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found is not an error
		}
		return nil, err
	}
	return &category, nil
}
