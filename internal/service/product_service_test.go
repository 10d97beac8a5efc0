package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shop-catalog/internal/catalog"
	"shop-catalog/internal/domain"
	"shop-catalog/internal/repository"
	"shop-catalog/internal/storage"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testStaging   = "/cdn/temp/products"
	testCommitted = "/cdn/products"
)

// Mock repositories for testing
type mockProductRepository struct {
	mu       sync.Mutex
	products map[uuid.UUID]*domain.Product

	failCreate error
	failUpdate error
	failDelete error
	updates    int
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{products: make(map[uuid.UUID]*domain.Product)}
}

func clone(p *domain.Product) *domain.Product {
	c := *p
	if p.Image != nil {
		image := *p.Image
		c.Image = &image
	}
	c.Categories = append([]uuid.UUID(nil), p.Categories...)
	return &c
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		return m.failCreate
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	product.CreatedAt = time.Now()
	m.products[product.ID] = clone(product)
	return nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates++
	if m.failUpdate != nil {
		return m.failUpdate
	}
	if _, ok := m.products[product.ID]; !ok {
		return repository.ErrProductNotFound
	}
	m.products[product.ID] = clone(product)
	return nil
}

func (m *mockProductRepository) DeleteByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDelete != nil {
		return nil, m.failDelete
	}
	product, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	delete(m.products, id)
	return product, nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	return clone(product), nil
}

func (m *mockProductRepository) FindMatching(ctx context.Context, filter catalog.Filter) ([]*domain.ProductView, int, error) {
	return nil, 0, errors.New("not supported by mock")
}

func (m *mockProductRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products)
}

type mockCategoryRepository struct {
	categories map[uuid.UUID]*domain.Category
}

func (m *mockCategoryRepository) Create(ctx context.Context, category *domain.Category) error {
	return errors.New("not supported by mock")
}

func (m *mockCategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	return nil, errors.New("not supported by mock")
}

func (m *mockCategoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	if c, ok := m.categories[id]; ok {
		return c, nil
	}
	return nil, repository.ErrCategoryNotFound
}

func (m *mockCategoryRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Category, error) {
	result := []*domain.Category{}
	for _, id := range ids {
		if c, ok := m.categories[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// failingAssets wraps a real store and fails chosen operations.
type failingAssets struct {
	AssetStore
	failPromote error
	failDelete  error
}

func (f *failingAssets) Promote(ctx context.Context, staged, committed string) error {
	if f.failPromote != nil {
		return f.failPromote
	}
	return f.AssetStore.Promote(ctx, staged, committed)
}

func (f *failingAssets) Delete(ctx context.Context, committed string) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.AssetStore.Delete(ctx, committed)
}

type fixture struct {
	svc      *productService
	products *mockProductRepository
	assets   *storage.FSAssetStore
	fs       afero.Fs
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fsys := afero.NewMemMapFs()
	assets, err := storage.NewFSAssetStore(fsys, storage.FSConfig{StagingDir: testStaging, CommittedDir: testCommitted})
	require.NoError(t, err)

	f := &fixture{
		products: newMockProductRepository(),
		assets:   assets,
		fs:       fsys,
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	svc := NewProductService(f.products, &mockCategoryRepository{}, assets, zap.NewNop()).(*productService)
	svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.svc = svc
	return f
}

func (f *fixture) stage(t *testing.T, filename string) string {
	t.Helper()
	name, err := f.svc.StageImage(context.Background(), bytes.NewReader([]byte("png-bytes")), filename)
	require.NoError(t, err)
	return name
}

func (f *fixture) staged(name string) bool {
	ok, _ := afero.Exists(f.fs, filepath.Join(testStaging, name))
	return ok
}

func (f *fixture) committed(name string) bool {
	ok, _ := afero.Exists(f.fs, filepath.Join(testCommitted, name))
	return ok
}

func validInput(image string) ProductInput {
	return ProductInput{
		Name:        "Espresso cup",
		Description: "Porcelain, 90ml",
		Price:       decimal.RequireFromString("12.50"),
		Quantity:    4,
		Image:       image,
	}
}

func TestCreate_PromotesStagedImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staged := f.stage(t, "photo.PNG")

	product, err := f.svc.Create(ctx, validInput(staged))
	require.NoError(t, err)

	require.True(t, product.HasImage())
	assert.NotEqual(t, staged, *product.Image)
	assert.Contains(t, *product.Image, product.ID.String())
	assert.Equal(t, ".png", filepath.Ext(*product.Image))
	assert.False(t, f.staged(staged))
	assert.True(t, f.committed(*product.Image))

	stored, err := f.products.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, *product.Image, *stored.Image)
}

func TestCreate_TrimsStagedImageName(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "photo.png")

	product, err := f.svc.Create(context.Background(), validInput("  "+staged+"\n"))
	require.NoError(t, err)

	assert.False(t, f.staged(staged))
	assert.True(t, f.committed(*product.Image))
	assert.Equal(t, ".png", filepath.Ext(*product.Image))
}

func TestCreate_MissingStagedImageLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput("never-uploaded_1.png"))
	require.Error(t, err)
	assert.Nil(t, product)
	assert.ErrorIs(t, err, ErrImageNotFound)
	assert.Equal(t, 0, f.products.count())
}

func TestCreate_RequiresImage(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), validInput("  "))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.products.count())
}

func TestCreate_RejectsInvalidFieldsBeforeAnyWrite(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "photo.png")

	in := validInput(staged)
	in.Name = ""
	_, err := f.svc.Create(context.Background(), in)

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 0, f.products.count())
	assert.True(t, f.staged(staged))
}

func TestCreate_PersistFailureCompensatesRecordAndAsset(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "photo.png")
	f.products.failUpdate = errors.New("connection reset")

	_, err := f.svc.Create(context.Background(), validInput(staged))
	require.Error(t, err)

	assert.Equal(t, 0, f.products.count())
	files, _ := afero.ReadDir(f.fs, testCommitted)
	assert.Empty(t, files)
}

func TestCreate_InsertFailureTouchesNothing(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "photo.png")
	f.products.failCreate = errors.New("db down")

	_, err := f.svc.Create(context.Background(), validInput(staged))
	require.Error(t, err)
	assert.True(t, f.staged(staged))
}

func TestCreate_AssetWriteFailureDeletesRecord(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "photo.png")
	f.svc.assets = &failingAssets{AssetStore: f.assets, failPromote: storage.ErrAssetWrite}

	_, err := f.svc.Create(context.Background(), validInput(staged))
	assert.ErrorIs(t, err, storage.ErrAssetWrite)
	assert.NotErrorIs(t, err, ErrImageNotFound)
	assert.Equal(t, 0, f.products.count())
}

func TestCreate_CancelledContextStillCompensates(t *testing.T) {
	f := newFixture(t)
	staged := f.stage(t, "photo.png")

	ctx, cancel := context.WithCancel(context.Background())
	f.products.failUpdate = errors.New("persist failed")
	cancel()

	_, err := f.svc.Create(ctx, validInput(staged))
	require.Error(t, err)
	assert.Equal(t, 0, f.products.count())
}

func TestUpdate_ReplacesImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "old.png")))
	require.NoError(t, err)
	oldImage := *product.Image

	in := validInput(f.stage(t, "new.jpg"))
	in.Name = "Renamed cup"
	updated, err := f.svc.Update(ctx, product.ID, in)
	require.NoError(t, err)

	assert.Equal(t, "Renamed cup", updated.Name)
	assert.NotEqual(t, oldImage, *updated.Image)
	assert.Equal(t, ".jpg", filepath.Ext(*updated.Image))
	assert.False(t, f.committed(oldImage))
	assert.True(t, f.committed(*updated.Image))
}

func TestUpdate_WithoutNewImageKeepsCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "keep.png")))
	require.NoError(t, err)

	in := validInput("")
	in.Hidden = true
	updated, err := f.svc.Update(ctx, product.ID, in)
	require.NoError(t, err)

	assert.True(t, updated.Hidden)
	assert.Equal(t, *product.Image, *updated.Image)
	assert.True(t, f.committed(*updated.Image))

	// Sending the current committed name is the same as sending nothing.
	updated, err = f.svc.Update(ctx, product.ID, validInput(*product.Image))
	require.NoError(t, err)
	assert.Equal(t, *product.Image, *updated.Image)
	assert.True(t, f.committed(*updated.Image))
}

func TestUpdate_MissingProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Update(context.Background(), uuid.New(), validInput(""))
	assert.ErrorIs(t, err, repository.ErrProductNotFound)
}

func TestUpdate_MissingStagedImageKeepsOldImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "old.png")))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, product.ID, validInput("gone_1.png"))
	assert.ErrorIs(t, err, ErrImageNotFound)

	stored, err := f.products.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, *product.Image, *stored.Image)
	assert.True(t, f.committed(*stored.Image))
}

func TestUpdate_PersistFailureRemovesNewAssetAndKeepsOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "old.png")))
	require.NoError(t, err)

	f.products.failUpdate = errors.New("write conflict")
	_, err = f.svc.Update(ctx, product.ID, validInput(f.stage(t, "new.png")))
	require.Error(t, err)

	files, err := afero.ReadDir(f.fs, testCommitted)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, *product.Image, files[0].Name())
}

func TestUpdate_OldImageDeleteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "old.png")))
	require.NoError(t, err)

	f.svc.assets = &failingAssets{AssetStore: f.assets, failDelete: errors.New("permission denied")}
	updated, err := f.svc.Update(ctx, product.ID, validInput(f.stage(t, "new.png")))
	require.NoError(t, err)
	assert.NotEqual(t, *product.Image, *updated.Image)
}

func TestDelete_RemovesRecordAndImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "photo.png")))
	require.NoError(t, err)

	deleted, err := f.svc.Delete(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, f.committed(*product.Image))

	deleted, err = f.svc.Delete(ctx, product.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDelete_ToleratesMissingImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "photo.png")))
	require.NoError(t, err)
	require.NoError(t, f.fs.Remove(filepath.Join(testCommitted, *product.Image)))

	deleted, err := f.svc.Delete(ctx, product.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestDelete_RepositoryFailureSurfaces(t *testing.T) {
	f := newFixture(t)
	f.products.failDelete = errors.New("db down")

	deleted, err := f.svc.Delete(context.Background(), uuid.New())
	assert.Error(t, err)
	assert.False(t, deleted)
}

func TestGet_PopulatesCategories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	category := &domain.Category{ID: uuid.New(), Name: "Kitchen"}
	f.svc.categories = &mockCategoryRepository{categories: map[uuid.UUID]*domain.Category{category.ID: category}}

	in := validInput(f.stage(t, "photo.png"))
	in.Categories = []uuid.UUID{category.ID}
	product, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	detail, err := f.svc.Get(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, detail.Categories, 1)
	assert.Equal(t, "Kitchen", detail.Categories[0].Name)

	_, err = f.svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrProductNotFound)
}

func TestDiscardImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staged := f.stage(t, "photo.png")

	require.NoError(t, f.svc.DiscardImage(ctx, staged))
	assert.False(t, f.staged(staged))
	require.NoError(t, f.svc.DiscardImage(ctx, staged))

	assert.ErrorIs(t, f.svc.DiscardImage(ctx, "../products/x.png"), storage.ErrInvalidAssetName)
}

func TestConcurrentUpdateAndDeleteAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.Create(ctx, validInput(f.stage(t, "photo.png")))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Update(ctx, product.ID, validInput(""))
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Delete(ctx, product.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.products.count())
	assert.Equal(t, 0, f.svc.locks.size())
}

// Feature: product-catalog, Property 10: No product exists without a committed image
func TestProperty_CreateNeverLeavesOrphans(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("after Create every stored product references an existing committed image", prop.ForAll(
		func(uploaded bool, persistFails bool) bool {
			f := newFixture(t)
			ctx := context.Background()

			image := "missing_1.png"
			if uploaded {
				image = f.stage(t, "photo.png")
			}
			if persistFails {
				f.products.failUpdate = errors.New("persist failed")
			}

			product, err := f.svc.Create(ctx, validInput(image))
			if uploaded && !persistFails {
				return err == nil && f.products.count() == 1 && f.committed(*product.Image)
			}

			files, _ := afero.ReadDir(f.fs, testCommitted)
			return err != nil && f.products.count() == 0 && len(files) == 0
		},
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
