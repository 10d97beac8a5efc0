package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"shop-catalog/internal/domain"
	"shop-catalog/internal/repository"
	"shop-catalog/internal/saga"
	"shop-catalog/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrImageNotFound means the request referenced a staged image the server no longer has.
var ErrImageNotFound = errors.New("image file not found")

// AssetStore is the part of the image backend the coordinator drives.
type AssetStore interface {
	storage.StagedStore
	storage.CommittedStore
}

// ProductInput carries the admin-editable attributes of a product. Image is the
// staged name of a freshly uploaded image, or empty to keep the current one.
type ProductInput struct {
	Name        string
	Description string
	Categories  []uuid.UUID
	Price       decimal.Decimal
	Quantity    int
	SoldOut     bool
	Hidden      bool
	Image       string
}

func (in ProductInput) applyTo(p *domain.Product) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = strings.TrimSpace(in.Description)
	p.Categories = in.Categories
	p.Price = in.Price
	p.Quantity = in.Quantity
	p.SoldOut = in.SoldOut
	p.Hidden = in.Hidden
}

// ProductService coordinates product records with their committed images
type ProductService interface {
	StageImage(ctx context.Context, r io.Reader, originalFilename string) (string, error)
	DiscardImage(ctx context.Context, stagedName string) error
	Create(ctx context.Context, in ProductInput) (*domain.Product, error)
	Update(ctx context.Context, id uuid.UUID, in ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id uuid.UUID) (deleted bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*domain.ProductDetail, error)
}

type productService struct {
	products   repository.ProductRepository
	categories repository.CategoryRepository
	assets     AssetStore
	locks      *keyedMutex
	logger     *zap.Logger
	now        func() time.Time
}

// NewProductService creates a new instance of ProductService
func NewProductService(
	products repository.ProductRepository,
	categories repository.CategoryRepository,
	assets AssetStore,
	logger *zap.Logger,
) ProductService {
	return &productService{
		products:   products,
		categories: categories,
		assets:     assets,
		locks:      newKeyedMutex(),
		logger:     logger,
		now:        time.Now,
	}
}

// StageImage stores an upload in the staging area and returns its staged name
func (s *productService) StageImage(ctx context.Context, r io.Reader, originalFilename string) (string, error) {
	name, err := s.assets.Stage(ctx, r, originalFilename)
	if err != nil {
		return "", fmt.Errorf("failed to stage image: %w", err)
	}

	s.logger.Info("Image staged", zap.String("staged_name", name))
	return name, nil
}

// DiscardImage removes a staged upload. Unknown names are ignored.
func (s *productService) DiscardImage(ctx context.Context, stagedName string) error {
	if err := s.assets.Discard(ctx, stagedName); err != nil {
		return fmt.Errorf("failed to discard image: %w", err)
	}

	s.logger.Info("Staged image discarded", zap.String("staged_name", stagedName))
	return nil
}

// Create persists a product and binds the staged image to it. On any failure no
// product record survives and the staged image is not left half-promoted.
func (s *productService) Create(ctx context.Context, in ProductInput) (*domain.Product, error) {
	staged := strings.TrimSpace(in.Image)
	if staged == "" {
		return nil, fmt.Errorf("%w: image is required", domain.ErrValidation)
	}

	product := &domain.Product{}
	in.applyTo(product)
	if err := product.Validate(); err != nil {
		return nil, err
	}

	var committed string

	run := saga.New("create product", s.logger,
		saga.Step{
			Name: "insert record",
			Action: func(ctx context.Context) error {
				return s.products.Create(ctx, product)
			},
			Compensate: func(ctx context.Context) error {
				return s.removeRecord(ctx, product.ID)
			},
		},
		saga.Step{
			Name: "promote staged image",
			Action: func(ctx context.Context) error {
				committed = storage.CommittedName(product.ID.String(), s.now(), staged)
				return s.promote(ctx, staged, committed)
			},
			Compensate: func(ctx context.Context) error {
				return s.assets.Delete(ctx, committed)
			},
		},
		saga.Step{
			Name: "persist image reference",
			Action: func(ctx context.Context) error {
				product.Image = &committed
				return s.products.Update(ctx, product)
			},
		},
	)

	if err := run.Run(ctx); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("image", committed),
	)
	return product, nil
}

// Update replaces the product's attributes. A new staged image is promoted before the
// record is saved and the previous image is removed only after the save succeeded.
func (s *productService) Update(ctx context.Context, id uuid.UUID, in ProductInput) (*domain.Product, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var previous string
	if product.HasImage() {
		previous = *product.Image
	}

	in.applyTo(product)
	if err := product.Validate(); err != nil {
		return nil, err
	}

	staged := strings.TrimSpace(in.Image)
	if staged == "" || staged == previous {
		if err := s.products.Update(ctx, product); err != nil {
			return nil, fmt.Errorf("failed to update product: %w", err)
		}
		return product, nil
	}

	committed := storage.CommittedName(product.ID.String(), s.now(), staged)

	run := saga.New("update product", s.logger,
		saga.Step{
			Name:   "ensure committed area",
			Action: s.assets.EnsureCommitted,
		},
		saga.Step{
			Name: "promote staged image",
			Action: func(ctx context.Context) error {
				return s.promote(ctx, staged, committed)
			},
			Compensate: func(ctx context.Context) error {
				return s.assets.Delete(ctx, committed)
			},
		},
		saga.Step{
			Name: "persist",
			Action: func(ctx context.Context) error {
				product.Image = &committed
				return s.products.Update(ctx, product)
			},
		},
	)

	if err := run.Run(ctx); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	if previous != "" && previous != committed {
		if err := s.assets.Delete(context.WithoutCancel(ctx), previous); err != nil {
			s.logger.Warn("Failed to delete replaced image",
				zap.String("product_id", id.String()),
				zap.String("image", previous),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Product updated",
		zap.String("product_id", id.String()),
		zap.String("image", committed),
	)
	return product, nil
}

// Delete removes the product and its committed image. A product that is already
// gone is reported as not deleted without an error.
func (s *productService) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	deleted, err := s.products.DeleteByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete product: %w", err)
	}

	if deleted.HasImage() {
		if err := s.assets.Delete(context.WithoutCancel(ctx), *deleted.Image); err != nil {
			s.logger.Warn("Failed to delete product image",
				zap.String("product_id", id.String()),
				zap.String("image", *deleted.Image),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Product deleted", zap.String("product_id", id.String()))
	return true, nil
}

// Get returns a product with its categories resolved
func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.ProductDetail, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	categories, err := s.categories.FindByIDs(ctx, product.Categories)
	if err != nil {
		return nil, fmt.Errorf("failed to load product categories: %w", err)
	}

	return &domain.ProductDetail{Product: product, Categories: categories}, nil
}

func (s *productService) promote(ctx context.Context, staged, committed string) error {
	err := s.assets.Promote(ctx, staged, committed)
	if errors.Is(err, storage.ErrAssetNotFound) {
		return fmt.Errorf("%w: %s", ErrImageNotFound, staged)
	}
	return err
}

func (s *productService) removeRecord(ctx context.Context, id uuid.UUID) error {
	_, err := s.products.DeleteByID(ctx, id)
	if errors.Is(err, repository.ErrProductNotFound) {
		return nil
	}
	return err
}
