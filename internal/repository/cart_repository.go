package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// CartRepository is the read-only view of shopping carts the catalog needs.
type CartRepository interface {
	ProductIDs(ctx context.Context, cartID uuid.UUID) ([]uuid.UUID, error)
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(db *sql.DB) CartRepository {
	return &cartRepository{db: db}
}

// ProductIDs returns the ids of the products held in a cart. An unknown or
// empty cart yields an empty slice.
func (r *cartRepository) ProductIDs(ctx context.Context, cartID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT product_id
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY product_id
	`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	return ids, nil
}
