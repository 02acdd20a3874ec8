package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	FaceMatch    FaceMatchConfig
	Storage      StorageConfig
	Search       SearchConfig
	Verification VerificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr              string
	Password          string
	DB                int
	StatusCacheTTLSec int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// FaceMatchConfig configures the external comparison service client.
type FaceMatchConfig struct {
	BaseURL       string
	Threshold     float64
	TimeoutMillis int
	MaxAttempts   int
	BackoffMillis int
}

// StorageConfig holds object storage (MinIO/S3) connection values.
type StorageConfig struct {
	Endpoint         string
	Region           string
	AccessKey        string
	SecretKey        string
	Bucket           string
	UsePathStyle     bool
	UploadTTLSeconds int
	ViewTTLSeconds   int
}

// SearchConfig holds the submission search index connection values.
type SearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

// VerificationConfig tunes the orchestrator and its worker.
type VerificationConfig struct {
	LeaseTTLSeconds       int
	MaxAttempts           int
	WorkerIntervalSeconds int
	WorkerConcurrency     int
	WorkerBatchSize       int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	threshold, err := strconv.ParseFloat(getEnv("FACE_MATCH_THRESHOLD", "0.6"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FACE_MATCH_THRESHOLD: %w", err)
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("FACE_MATCH_THRESHOLD must be within [0,1], got %v", threshold)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "identity-verification-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:              getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:          os.Getenv("REDIS_PASSWORD"),
			DB:                redisDB,
			StatusCacheTTLSec: getEnvAsInt("REDIS_STATUS_CACHE_TTL_SECONDS", 30),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 1440),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		FaceMatch: FaceMatchConfig{
			BaseURL:       getEnv("FACE_MATCH_HOST", "http://127.0.0.1:9000"),
			Threshold:     threshold,
			TimeoutMillis: getEnvAsInt("FACE_MATCH_TIMEOUT_MILLIS", 30000),
			MaxAttempts:   getEnvAsInt("FACE_MATCH_MAX_ATTEMPTS", 3),
			BackoffMillis: getEnvAsInt("FACE_MATCH_BACKOFF_MILLIS", 500),
		},
		Storage: StorageConfig{
			Endpoint:         getEnv("MINIO_ENDPOINT", "http://127.0.0.1:9090"),
			Region:           getEnv("MINIO_REGION", "us-east-1"),
			AccessKey:        os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:        os.Getenv("MINIO_SECRET_KEY"),
			Bucket:           getEnv("MINIO_BUCKET_NAME", "submissions"),
			UsePathStyle:     getEnvAsBool("MINIO_USE_PATH_STYLE", true),
			UploadTTLSeconds: getEnvAsInt("STORAGE_UPLOAD_TTL_SECONDS", 600),
			ViewTTLSeconds:   getEnvAsInt("STORAGE_VIEW_TTL_SECONDS", 3600),
		},
		Search: SearchConfig{
			URL:      os.Getenv("ELASTICSEARCH_URL"),
			Username: os.Getenv("ELASTICSEARCH_USER"),
			Password: os.Getenv("ELASTICSEARCH_PASS"),
			Index:    getEnv("ELASTICSEARCH_INDEX", "submissions"),
		},
		Verification: VerificationConfig{
			LeaseTTLSeconds:       getEnvAsInt("VERIFICATION_LEASE_TTL_SECONDS", 120),
			MaxAttempts:           getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 3),
			WorkerIntervalSeconds: getEnvAsInt("VERIFICATION_WORKER_INTERVAL_SECONDS", 30),
			WorkerConcurrency:     getEnvAsInt("VERIFICATION_WORKER_CONCURRENCY", 4),
			WorkerBatchSize:       getEnvAsInt("VERIFICATION_WORKER_BATCH_SIZE", 20),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the per-call face match deadline.
func (f FaceMatchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutMillis) * time.Millisecond
}

// Backoff returns the delay between client-level retry attempts.
func (f FaceMatchConfig) Backoff() time.Duration {
	return time.Duration(f.BackoffMillis) * time.Millisecond
}

// LeaseTTL returns the processing lease duration.
func (v VerificationConfig) LeaseTTL() time.Duration {
	return time.Duration(v.LeaseTTLSeconds) * time.Second
}

// WorkerInterval returns the polling cadence for the background worker.
func (v VerificationConfig) WorkerInterval() time.Duration {
	return time.Duration(v.WorkerIntervalSeconds) * time.Second
}

// StatusCacheTTL returns how long cached status lookups stay fresh.
func (r RedisConfig) StatusCacheTTL() time.Duration {
	return time.Duration(r.StatusCacheTTLSec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
