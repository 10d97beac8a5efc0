package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name" validate:"required,max=255"`
	Description string          `json:"description" db:"description" validate:"required"`
	Categories  []uuid.UUID     `json:"categories" db:"-"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Quantity    int             `json:"quantity" db:"quantity" validate:"gte=0"`
	SoldOut     bool            `json:"soldOut" db:"sold_out"`
	Hidden      bool            `json:"hidden" db:"hidden"`
	Image       *string         `json:"image" db:"image"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// HasImage reports whether the product references a committed image.
func (p *Product) HasImage() bool {
	return p.Image != nil && *p.Image != ""
}

// ProductView is a listing row. Categories are not projected.
type ProductView struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	SoldOut     bool            `json:"soldOut"`
	Hidden      bool            `json:"hidden"`
	Image       *string         `json:"image"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`

	// InCart is only set by the public listing.
	InCart *bool `json:"inCart,omitempty"`
}

// Category represents a product category
type Category struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ProductDetail is a product with its categories populated.
type ProductDetail struct {
	*Product
	Categories []*Category `json:"categories"`
}
