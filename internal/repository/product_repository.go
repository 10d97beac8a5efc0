package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"shop-catalog/internal/catalog"
	"shop-catalog/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = fmt.Errorf("invalid product: %w", domain.ErrValidation)
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// ProductRepository defines the interface for product data access
type ProductRepository interface {
	Create(ctx context.Context, product *domain.Product) error
	Update(ctx context.Context, product *domain.Product) error
	DeleteByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	FindMatching(ctx context.Context, filter catalog.Filter) ([]*domain.ProductView, int, error)
}

type productRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewProductRepository creates a new instance of ProductRepository. Names are
// case folded into the search column on every write.
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

const productColumns = `p.id, p.name, p.description, p.price, p.quantity, p.sold_out, p.hidden, p.image, p.created_at, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{}
	var image sql.NullString
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Quantity,
		&product.SoldOut,
		&product.Hidden,
		&image,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if image.Valid {
		product.Image = &image.String
	}
	return product, nil
}

// Create inserts a new product and its category memberships in one transaction.
// A zero ID or timestamp is assigned before the insert.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	if err := product.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := r.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = product.CreatedAt
	}

	query := `
		INSERT INTO products (id, name, search_name, description, price, quantity, sold_out, hidden, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			query,
			product.ID,
			product.Name,
			catalog.Fold(product.Name),
			product.Description,
			product.Price,
			product.Quantity,
			product.SoldOut,
			product.Hidden,
			nullableString(product.Image),
			product.CreatedAt,
			product.UpdatedAt,
		)
		if err != nil {
			return translateWriteError("failed to create product", err)
		}

		return replaceCategories(ctx, tx, product.ID, product.Categories)
	})
}

// Update replaces every mutable field, including the category set.
func (r *productRepository) Update(ctx context.Context, product *domain.Product) error {
	if err := product.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProduct, err)
	}

	product.UpdatedAt = r.now()

	query := `
		UPDATE products
		SET name = $2, search_name = $3, description = $4, price = $5, quantity = $6,
		    sold_out = $7, hidden = $8, image = $9, updated_at = $10
		WHERE id = $1
	`

	return r.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(
			ctx,
			query,
			product.ID,
			product.Name,
			catalog.Fold(product.Name),
			product.Description,
			product.Price,
			product.Quantity,
			product.SoldOut,
			product.Hidden,
			nullableString(product.Image),
			product.UpdatedAt,
		)
		if err != nil {
			return translateWriteError("failed to update product", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return ErrProductNotFound
		}

		return replaceCategories(ctx, tx, product.ID, product.Categories)
	})
}

// DeleteByID removes a product and returns the record as it was before removal
func (r *productRepository) DeleteByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	var deleted *domain.Product

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		categories, err := findCategoryIDs(ctx, tx, id)
		if err != nil {
			return err
		}

		query := `DELETE FROM products p WHERE p.id = $1 RETURNING ` + productColumns
		product, err := scanProduct(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrProductNotFound
			}
			return fmt.Errorf("failed to delete product: %w", err)
		}
		product.Categories = categories
		deleted = product
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deleted, nil
}

// FindByID retrieves a product by ID along with its category ids
func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products p WHERE p.id = $1`

	product, err := scanProduct(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}

	product.Categories, err = findCategoryIDs(ctx, r.db, id)
	if err != nil {
		return nil, err
	}

	return product, nil
}

// FindMatching returns one page of products matching filter together with the
// total number of matches. Both come from the same predicate and the same snapshot.
func (r *productRepository) FindMatching(ctx context.Context, filter catalog.Filter) ([]*domain.ProductView, int, error) {
	where, args := buildPredicate(filter)

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin listing transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int
	countQuery := `SELECT COUNT(*) FROM products p ` + where
	if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	views := []*domain.ProductView{}
	if total == 0 || filter.Offset() >= total {
		return views, total, tx.Commit()
	}

	pageQuery := fmt.Sprintf(`
		SELECT %s
		FROM products p
		%s
		ORDER BY p.created_at DESC, p.seq ASC
		LIMIT $%d OFFSET $%d
	`, productColumns, where, len(args)+1, len(args)+2)

	rows, err := tx.QueryContext(ctx, pageQuery, append(args, filter.PageSize, filter.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product: %w", err)
		}
		views = append(views, toView(product))
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating products: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to finish listing transaction: %w", err)
	}

	return views, total, nil
}

// buildPredicate renders filter as a WHERE clause over the products table aliased p.
// An empty filter yields an empty clause.
func buildPredicate(filter catalog.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if filter.Keyword != "" {
		args = append(args, escapeLike(filter.Keyword))
		conds = append(conds, fmt.Sprintf(`p.search_name LIKE '%%' || $%d || '%%' ESCAPE '\'`, len(args)))
	}

	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		conds = append(conds, fmt.Sprintf(
			`EXISTS (SELECT 1 FROM product_categories pc WHERE pc.product_id = p.id AND pc.category_id = $%d)`,
			len(args),
		))
	}

	if filter.VisibleOnly {
		conds = append(conds, `p.hidden = FALSE`)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match itself literally inside a LIKE pattern using '\' as escape.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func toView(p *domain.Product) *domain.ProductView {
	return &domain.ProductView{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Quantity:    p.Quantity,
		SoldOut:     p.SoldOut,
		Hidden:      p.Hidden,
		Image:       p.Image,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func findCategoryIDs(ctx context.Context, q queryer, productID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT category_id FROM product_categories WHERE product_id = $1 ORDER BY category_id`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load product categories: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan product category: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product categories: %w", err)
	}
	return ids, nil
}

func replaceCategories(ctx context.Context, tx *sql.Tx, productID uuid.UUID, categories []uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_categories WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("failed to clear product categories: %w", err)
	}

	seen := make(map[uuid.UUID]struct{}, len(categories))
	for _, categoryID := range categories {
		if _, dup := seen[categoryID]; dup {
			continue
		}
		seen[categoryID] = struct{}{}

		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2)`,
			productID,
			categoryID,
		)
		if err != nil {
			return translateWriteError("failed to assign product category", err)
		}
	}
	return nil
}

func (r *productRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// translateWriteError maps constraint violations onto ErrInvalidProduct.
func translateWriteError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: unknown category", ErrInvalidProduct)
		case pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrInvalidProduct, pgErr.ConstraintName)
		case pgUniqueViolation:
			return fmt.Errorf("%w: duplicate %s", ErrInvalidProduct, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
