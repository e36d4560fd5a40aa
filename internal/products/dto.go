package products

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
)

// CategoryDTO is the storefront view of a category.
type CategoryDTO struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// ProductDTO is the storefront view of a product. Price is serialized as a
// two decimal string.
type ProductDTO struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Price       string       `json:"price"`
	IsActive    bool         `json:"is_active"`
	Category    *CategoryDTO `json:"category,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// CreateProductInput holds the validated payload to create a product.
type CreateProductInput struct {
	CategoryID  *uuid.UUID
	Name        string
	Description string
	Price       decimal.Decimal
	IsActive    *bool
}

// UpdateProductInput carries optional fields; nil means unchanged.
type UpdateProductInput struct {
	CategoryID  *uuid.UUID
	Name        *string
	Description *string
	Price       *decimal.Decimal
	IsActive    *bool
}

// ListProductsInput filters the catalog listing.
type ListProductsInput struct {
	CategorySlug string
	Query        string
	Limit        int
	Cursor       string
	IncludeAll   bool
}

// CreateCategoryInput holds the payload to create a category.
type CreateCategoryInput struct {
	Name string
	Slug string
}

func categoryFromModel(c *models.Category) *CategoryDTO {
	if c == nil {
		return nil
	}
	return &CategoryDTO{ID: c.ID, Name: c.Name, Slug: c.Slug}
}

// FromModel maps a product row into its DTO.
func FromModel(p *models.Product) *ProductDTO {
	if p == nil {
		return nil
	}
	return &ProductDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.StringFixed(2),
		IsActive:    p.IsActive,
		Category:    categoryFromModel(p.Category),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
