package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"shop-catalog/internal/catalog"
	"shop-catalog/internal/domain"
	"shop-catalog/internal/middleware"
	"shop-catalog/internal/repository"
	"shop-catalog/internal/service"
	"shop-catalog/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// MaxUploadSize bounds a multipart image upload
	MaxUploadSize = 10 << 20

	imageFormField = "image"
)

// ProductRequest represents the create and update payload
type ProductRequest struct {
	Name        string          `json:"name" validate:"required,max=255"`
	Description string          `json:"description" validate:"required"`
	Categories  []string        `json:"categories" validate:"dive,uuid"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
	SoldOut     bool            `json:"soldOut"`
	Hidden      bool            `json:"hidden"`
	Image       string          `json:"image"`
}

func (req ProductRequest) toInput() (service.ProductInput, error) {
	categories := make([]uuid.UUID, 0, len(req.Categories))
	for _, raw := range req.Categories {
		id, err := uuid.Parse(raw)
		if err != nil {
			return service.ProductInput{}, err
		}
		categories = append(categories, id)
	}

	return service.ProductInput{
		Name:        req.Name,
		Description: req.Description,
		Categories:  categories,
		Price:       req.Price,
		Quantity:    req.Quantity,
		SoldOut:     req.SoldOut,
		Hidden:      req.Hidden,
		Image:       req.Image,
	}, nil
}

// Catalog serves the two product listings
type Catalog interface {
	AdminListing(ctx context.Context, q catalog.Query) (*catalog.Result, error)
	PublicListing(ctx context.Context, q catalog.Query, cartID *uuid.UUID) (*catalog.Result, error)
}

// ProductHandler handles HTTP requests for product operations
type ProductHandler struct {
	products        service.ProductService
	catalog         Catalog
	defaultPageSize int
	logger          *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(products service.ProductService, listings Catalog, defaultPageSize int, logger *zap.Logger) *ProductHandler {
	if defaultPageSize < 1 {
		defaultPageSize = 30
	}
	return &ProductHandler{
		products:        products,
		catalog:         listings,
		defaultPageSize: defaultPageSize,
		logger:          logger,
	}
}

// RegisterRoutes registers all product routes. Writes require an authenticated
// admin, the public listing goes through rateLimit.
func (h *ProductHandler) RegisterRoutes(
	r chi.Router,
	authMiddleware func(http.Handler) http.Handler,
	adminMiddleware func(http.Handler) http.Handler,
	rateLimit func(http.Handler) http.Handler,
) {
	r.Route("/api/products", func(r chi.Router) {
		// Public routes
		r.With(rateLimit).Get("/", h.PublicListing)
		r.Get("/{id}", h.GetProduct)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, adminMiddleware)
			r.Post("/", h.CreateProduct)
			r.Put("/{id}", h.UpdateProduct)
			r.Delete("/{id}", h.DeleteProduct)
			r.Post("/images", h.UploadImage)
			r.Delete("/images/{fileName}", h.DiscardImage)
		})
	})

	r.With(authMiddleware, adminMiddleware).Get("/api/admin/products", h.AdminListing)
}

// UploadImage stages a multipart image upload and returns its staged name
func (h *ProductHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.logger.Debug("Invalid multipart upload", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(imageFormField)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	name, err := h.products.StageImage(r.Context(), file, header.Filename)
	if err != nil {
		h.respondWithServiceError(w, "Image upload failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, name)
}

// DiscardImage removes a staged upload the client no longer needs
func (h *ProductHandler) DiscardImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "fileName")

	if err := h.products.DiscardImage(r.Context(), name); err != nil {
		h.respondWithServiceError(w, "Image discard failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "image discarded"})
}

// CreateProduct handles product creation
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}

	product, err := h.products.Create(r.Context(), in)
	if err != nil {
		h.respondWithServiceError(w, "Product creation failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

// UpdateProduct handles full replacement of a product's attributes
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	in, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}

	product, err := h.products.Update(r.Context(), id, in)
	if err != nil {
		h.respondWithServiceError(w, "Product update failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

// DeleteProduct removes a product. Deleting an absent product answers 204.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	deleted, err := h.products.Delete(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, "Product deletion failed", err)
		return
	}

	if !deleted {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// GetProduct returns a single product with its categories
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	detail, err := h.products.Get(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, "Product lookup failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, detail)
}

// AdminListing lists every product, hidden ones included
func (h *ProductHandler) AdminListing(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	result, err := h.catalog.AdminListing(r.Context(), q)
	if err != nil {
		h.respondWithServiceError(w, "Admin listing failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, result)
}

// PublicListing lists visible products and marks those in the given cart
func (h *ProductHandler) PublicListing(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	var cartID *uuid.UUID
	if raw := r.URL.Query().Get("cart"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid cart id")
			return
		}
		cartID = &id
	}

	result, err := h.catalog.PublicListing(r.Context(), q, cartID)
	if err != nil {
		h.respondWithServiceError(w, "Public listing failed", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, result)
}

func (h *ProductHandler) decodeProduct(w http.ResponseWriter, r *http.Request) (service.ProductInput, bool) {
	var req ProductRequest

	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Product validation failed", zap.Error(err))

		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return service.ProductInput{}, false
		}

		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return service.ProductInput{}, false
	}

	in, err := req.toInput()
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid category id")
		return service.ProductInput{}, false
	}
	return in, true
}

func (h *ProductHandler) parseQuery(w http.ResponseWriter, r *http.Request) (catalog.Query, bool) {
	values := r.URL.Query()

	q := catalog.Query{
		Keyword:  strings.TrimSpace(values.Get("s")),
		Page:     1,
		PageSize: h.defaultPageSize,
		Locale:   values.Get("locale"),
	}

	if raw := values.Get("category"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid category id")
			return catalog.Query{}, false
		}
		q.CategoryID = &id
	}

	for param, dst := range map[string]*int{"page": &q.Page, "size": &q.PageSize} {
		raw := values.Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid "+param)
			return catalog.Query{}, false
		}
		*dst = n
	}

	return q, true
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return uuid.Nil, false
	}
	return id, true
}

// respondWithServiceError maps the error taxonomy onto HTTP statuses
func (h *ProductHandler) respondWithServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrImageNotFound):
		h.logger.Info(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, service.ErrImageNotFound.Error())
	case errors.Is(err, storage.ErrInvalidAssetName):
		h.logger.Info(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid file name")
	case errors.Is(err, domain.ErrValidation):
		h.logger.Info(msg, zap.Error(err))
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrInvalidQuery):
		h.logger.Info(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrProductNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, storage.ErrAssetWrite), errors.Is(err, storage.ErrAssetNotFound):
		h.logger.Error(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "image storage failed")
	default:
		h.logger.Error(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}
