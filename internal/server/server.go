package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"shop-catalog/internal/catalog"
	"shop-catalog/internal/config"
	"shop-catalog/internal/database"
	custommiddleware "shop-catalog/internal/middleware"
	"shop-catalog/internal/repository"
	"shop-catalog/internal/service"
	"shop-catalog/internal/storage"
	"shop-catalog/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config  *config.Config
	logger  *zap.Logger
	db      *database.Service
	assets  storage.AssetStore
	redis   *redis.Client
	janitor *service.Janitor
}

// NewAssetStore opens the image backend selected by cfg.Backend
func NewAssetStore(ctx context.Context, cfg config.StorageConfig) (storage.AssetStore, error) {
	switch cfg.Backend {
	case "", "fs":
		store, err := storage.NewFSAssetStore(afero.NewOsFs(), storage.FSConfig{
			StagingDir:   cfg.TempProductsDir,
			CommittedDir: cfg.ProductsDir,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "jetstream":
		store, err := storage.NewJetStreamAssetStore(ctx, storage.JetStreamConfig{
			URL:             cfg.NATSURL,
			StagedBucket:    cfg.StagedBucket,
			CommittedBucket: cfg.CommittedBucket,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *database.Service) (*Server, error) {
	assets, err := NewAssetStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset store: %w", err)
	}
	if err := assets.EnsureCommitted(ctx); err != nil {
		_ = assets.Close()
		return nil, fmt.Errorf("failed to prepare committed images: %w", err)
	}

	janitor, err := service.NewJanitor(assets, cfg.Storage.StagedTTL, cfg.Storage.SweepInterval, logger)
	if err != nil {
		_ = assets.Close()
		return nil, fmt.Errorf("invalid staged image cleanup settings: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Create router
	router := chi.NewRouter()

	// Add basic middleware
	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.Server.Env != "production"))

	// Health check endpoint
	router.Get("/health", healthHandler(db, assets))

	// Initialize repositories
	productRepo := repository.NewProductRepository(db.DB())
	categoryRepo := repository.NewCategoryRepository(db.DB())
	cartRepo := repository.NewCartRepository(db.DB())

	// Initialize services
	productService := service.NewProductService(productRepo, categoryRepo, assets, logger)
	engine, err := catalog.NewEngine(productRepo, cartRepo, catalog.Config{
		DefaultLocale: cfg.Catalog.DefaultLanguage,
		MaxPageSize:   cfg.Catalog.MaxPageSize,
	}, logger)
	if err != nil {
		_ = assets.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create catalog engine: %w", err)
	}

	// Initialize handlers
	productHandler := transport.NewProductHandler(productService, engine, cfg.Catalog.DefaultPageSize, logger)

	// Create auth and rate limit middleware
	authMiddleware := custommiddleware.AuthMiddleware(cfg.JWT.Secret, logger)
	adminMiddleware := custommiddleware.RequireAdmin(logger)
	limiter := custommiddleware.NewRateLimiter(redisClient, custommiddleware.RateLimitConfig{
		RequestsPerWindow: cfg.Redis.RateLimitRequests,
		Window:            cfg.Redis.RateLimitWindow,
		KeyPrefix:         "ratelimit:catalog",
	})

	// Register routes
	productHandler.RegisterRoutes(router, authMiddleware, adminMiddleware,
		custommiddleware.RateLimitMiddleware(limiter, logger))

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config:  cfg,
		logger:  logger,
		db:      db,
		assets:  assets,
		redis:   redisClient,
		janitor: janitor,
	}

	return server, nil
}

type healthChecker interface {
	Health(ctx context.Context) map[string]string
}

// connectionChecker is implemented by asset backends that hold a network connection
type connectionChecker interface {
	IsConnected() bool
}

func healthHandler(db healthChecker, assets storage.AssetStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := db.Health(r.Context())
		status := http.StatusOK
		if health["status"] != "up" {
			status = http.StatusServiceUnavailable
		}

		if checker, ok := assets.(connectionChecker); ok {
			if checker.IsConnected() {
				health["storage"] = "up"
			} else {
				health["storage"] = "down"
				status = http.StatusServiceUnavailable
			}
		}

		custommiddleware.RespondWithJSON(w, status, health)
	}
}

// RunJanitor sweeps abandoned uploads until ctx is done
func (s *Server) RunJanitor(ctx context.Context) {
	s.janitor.Run(ctx)
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if err := s.assets.Close(); err != nil {
		s.logger.Error("Failed to close asset store", zap.Error(err))
	}

	if err := s.redis.Close(); err != nil {
		s.logger.Error("Failed to close redis client", zap.Error(err))
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	_ = s.logger.Sync()
	return nil
}
