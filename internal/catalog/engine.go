package catalog

import (
	"context"
	"fmt"
	"math"

	"shop-catalog/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
)

// ProductFinder runs a Filter and returns one page of rows plus the total match count.
type ProductFinder interface {
	FindMatching(ctx context.Context, filter Filter) ([]*domain.ProductView, int, error)
}

// CartLookup resolves a cart to the ids of the products it holds.
// An absent or empty cart yields an empty slice.
type CartLookup interface {
	ProductIDs(ctx context.Context, cartID uuid.UUID) ([]uuid.UUID, error)
}

// Config holds listing defaults.
type Config struct {
	DefaultLocale string
	MaxPageSize   int
}

// Engine builds and executes listing queries.
type Engine struct {
	finder        ProductFinder
	carts         CartLookup
	defaultLocale language.Tag
	maxPageSize   int
	logger        *zap.Logger
}

// NewEngine creates a listing engine.
func NewEngine(finder ProductFinder, carts CartLookup, cfg Config, logger *zap.Logger) (*Engine, error) {
	tag, err := ParseLocale(cfg.DefaultLocale, language.English)
	if err != nil {
		return nil, err
	}

	return &Engine{
		finder:        finder,
		carts:         carts,
		defaultLocale: tag,
		maxPageSize:   cfg.MaxPageSize,
		logger:        logger,
	}, nil
}

// AdminListing matches every product, hidden ones included.
func (e *Engine) AdminListing(ctx context.Context, q Query) (*Result, error) {
	filter, err := e.filter(q, false)
	if err != nil {
		return nil, err
	}

	rows, total, err := e.finder.FindMatching(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return newResult(rows, total), nil
}

// PublicListing matches visible products only and sets InCart on each row. The cart
// is resolved concurrently with the listing query and is never modified.
func (e *Engine) PublicListing(ctx context.Context, q Query, cartID *uuid.UUID) (*Result, error) {
	filter, err := e.filter(q, true)
	if err != nil {
		return nil, err
	}

	var (
		rows    []*domain.ProductView
		total   int
		inCart  = map[uuid.UUID]struct{}{}
		g, gctx = errgroup.WithContext(ctx)
	)

	if cartID != nil {
		g.Go(func() error {
			ids, err := e.carts.ProductIDs(gctx, *cartID)
			if err != nil {
				return fmt.Errorf("failed to resolve cart: %w", err)
			}
			for _, id := range ids {
				inCart[id] = struct{}{}
			}
			return nil
		})
	}

	g.Go(func() error {
		var err error
		rows, total, err = e.finder.FindMatching(gctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list products: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, row := range rows {
		_, ok := inCart[row.ID]
		row.InCart = &ok
	}

	e.logger.Debug("Public listing served",
		zap.Int("page", filter.Page),
		zap.Int("rows", len(rows)),
		zap.Int("total", total),
		zap.Int("cart_products", len(inCart)),
	)

	return newResult(rows, total), nil
}

// filter validates the pagination precondition and folds the keyword.
func (e *Engine) filter(q Query, visibleOnly bool) (Filter, error) {
	if q.Page < 1 {
		return Filter{}, fmt.Errorf("%w: page must be at least 1", ErrInvalidQuery)
	}
	if q.PageSize < 1 {
		return Filter{}, fmt.Errorf("%w: page size must be at least 1", ErrInvalidQuery)
	}

	if _, err := ParseLocale(q.Locale, e.defaultLocale); err != nil {
		return Filter{}, err
	}

	size := q.PageSize
	if e.maxPageSize > 0 && size > e.maxPageSize {
		size = e.maxPageSize
	}

	// (page-1)*size must fit in an int
	if q.Page-1 > math.MaxInt/size {
		return Filter{}, fmt.Errorf("%w: page %d is out of range", ErrInvalidQuery, q.Page)
	}

	return Filter{
		Keyword:     Fold(q.Keyword),
		CategoryID:  q.CategoryID,
		VisibleOnly: visibleOnly,
		Page:        q.Page,
		PageSize:    size,
	}, nil
}
