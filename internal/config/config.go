package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Catalog  CatalogConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type JWTConfig struct {
	Secret string
}

// StorageConfig selects the image backend. "fs" uses the two directories,
// "jetstream" uses two NATS object store buckets.
type StorageConfig struct {
	Backend         string
	ProductsDir     string
	TempProductsDir string
	NATSURL         string
	StagedBucket    string
	CommittedBucket string
	StagedTTL       time.Duration
	SweepInterval   time.Duration
}

type CatalogConfig struct {
	DefaultLanguage string
	DefaultPageSize int
	MaxPageSize     int
}

func Load() *Config {
	// Populate the process environment from .env so that every consumer sees the same values
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("RATE_LIMIT_REQUESTS", 120)
	viper.SetDefault("RATE_LIMIT_WINDOW", "1m")
	viper.SetDefault("STORAGE_BACKEND", "fs")
	viper.SetDefault("CDN_PRODUCTS", "./cdn/products")
	viper.SetDefault("CDN_TEMP_PRODUCTS", "./cdn/temp/products")
	viper.SetDefault("NATS_URL", "nats://localhost:4222")
	viper.SetDefault("NATS_STAGED_BUCKET", "temp-products")
	viper.SetDefault("NATS_COMMITTED_BUCKET", "products")
	viper.SetDefault("STAGED_TTL", "24h")
	viper.SetDefault("SWEEP_INTERVAL", "1h")
	viper.SetDefault("DEFAULT_LANGUAGE", "en")
	viper.SetDefault("DEFAULT_PAGE_SIZE", 30)
	viper.SetDefault("MAX_PAGE_SIZE", 100)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port:           viper.GetString("SERVER_PORT"),
			Env:            viper.GetString("SERVER_ENV"),
			LogLevel:       viper.GetString("LOG_LEVEL"),
			AllowedOrigins: splitList(viper.GetString("ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Host:              viper.GetString("REDIS_HOST"),
			Port:              viper.GetString("REDIS_PORT"),
			Password:          viper.GetString("REDIS_PASSWORD"),
			DB:                viper.GetInt("REDIS_DB"),
			RateLimitRequests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			RateLimitWindow:   viper.GetDuration("RATE_LIMIT_WINDOW"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("JWT_SECRET"),
		},
		Storage: StorageConfig{
			Backend:         viper.GetString("STORAGE_BACKEND"),
			ProductsDir:     viper.GetString("CDN_PRODUCTS"),
			TempProductsDir: viper.GetString("CDN_TEMP_PRODUCTS"),
			NATSURL:         viper.GetString("NATS_URL"),
			StagedBucket:    viper.GetString("NATS_STAGED_BUCKET"),
			CommittedBucket: viper.GetString("NATS_COMMITTED_BUCKET"),
			StagedTTL:       viper.GetDuration("STAGED_TTL"),
			SweepInterval:   viper.GetDuration("SWEEP_INTERVAL"),
		},
		Catalog: CatalogConfig{
			DefaultLanguage: viper.GetString("DEFAULT_LANGUAGE"),
			DefaultPageSize: viper.GetInt("DEFAULT_PAGE_SIZE"),
			MaxPageSize:     viper.GetInt("MAX_PAGE_SIZE"),
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
