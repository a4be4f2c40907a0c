package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend names
const (
	BackendSQL   = "sql"
	BackendMongo = "mongo"
	BackendMinIO = "minio"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string
	LogLevel    string
	LogPretty   bool

	// Store configuration
	MetadataBackend      string
	ChunkBackend         string
	ChunkSizeKB          int
	AllowEmptyFiles      bool
	StaleUploadAfter     time.Duration
	SweepInterval        time.Duration
	RetryAttempts        int
	RetryInitialInterval time.Duration

	// SQL configuration
	SQLDriver  string
	SQLDSN     string
	SQLitePath string

	// TiDB configuration
	TiDBHost     string
	TiDBPort     string
	TiDBUser     string
	TiDBPassword string
	TiDBDatabase string

	// MongoDB configuration
	MongoURL      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// Redis configuration
	CacheEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "gridstore-service"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvAsBool("LOG_PRETTY", false),

		// Store defaults
		MetadataBackend:      getEnv("METADATA_BACKEND", BackendSQL),
		ChunkBackend:         getEnv("CHUNK_BACKEND", BackendSQL),
		ChunkSizeKB:          getEnvAsInt("CHUNK_SIZE_KB", 255),
		AllowEmptyFiles:      getEnvAsBool("ALLOW_EMPTY_FILES", true),
		StaleUploadAfter:     getEnvAsDuration("STALE_UPLOAD_AFTER", 24*time.Hour),
		SweepInterval:        getEnvAsDuration("SWEEP_INTERVAL", 10*time.Minute),
		RetryAttempts:        getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryInitialInterval: getEnvAsDuration("RETRY_INITIAL_INTERVAL", 50*time.Millisecond),

		// SQL defaults
		SQLDriver:  getEnv("SQL_DRIVER", "mysql"),
		SQLDSN:     getEnv("SQL_DSN", ""),
		SQLitePath: getEnv("SQLITE_PATH", "gridstore.db"),

		// TiDB defaults
		TiDBHost:     getEnv("TIDB_HOST", "localhost"),
		TiDBPort:     getEnv("TIDB_PORT", "4000"),
		TiDBUser:     getEnv("TIDB_USER", "root"),
		TiDBPassword: getEnv("TIDB_PASSWORD", ""),
		TiDBDatabase: getEnv("TIDB_DATABASE", "gridstore"),

		// MongoDB defaults
		MongoURL:      getEnv("MONGO_URL", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "gridstore"),
		MongoTimeout:  getEnvAsDuration("MONGO_TIMEOUT", 10*time.Second),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "gridstore"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// Redis defaults
		CacheEnabled:  getEnvAsBool("CACHE_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Jaeger is off unless an endpoint is given
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects combinations the server cannot start with
func (c *Config) Validate() error {
	var errs []error

	switch c.MetadataBackend {
	case BackendSQL, BackendMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown METADATA_BACKEND %q", c.MetadataBackend))
	}
	switch c.ChunkBackend {
	case BackendSQL, BackendMongo, BackendMinIO:
	default:
		errs = append(errs, fmt.Errorf("unknown CHUNK_BACKEND %q", c.ChunkBackend))
	}
	if c.UsesSQL() {
		switch c.SQLDriver {
		case "mysql", "sqlite", "pgx":
		default:
			errs = append(errs, fmt.Errorf("unknown SQL_DRIVER %q", c.SQLDriver))
		}
		if c.SQLDriver == "pgx" && c.SQLDSN == "" {
			errs = append(errs, errors.New("SQL_DSN is required for the pgx driver"))
		}
	}
	if c.ChunkSizeKB <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE_KB must be positive, got %d", c.ChunkSizeKB))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval))
	}
	if c.StaleUploadAfter <= 0 {
		errs = append(errs, fmt.Errorf("STALE_UPLOAD_AFTER must be positive, got %s", c.StaleUploadAfter))
	}

	return errors.Join(errs...)
}

// UsesSQL reports whether any collection lives in the SQL database
func (c *Config) UsesSQL() bool {
	return c.MetadataBackend == BackendSQL || c.ChunkBackend == BackendSQL
}

// UsesMongo reports whether any collection lives in MongoDB
func (c *Config) UsesMongo() bool {
	return c.MetadataBackend == BackendMongo || c.ChunkBackend == BackendMongo
}

// GetDSN returns the connection string for the configured SQL driver.
// SQL_DSN wins when set.
func (c *Config) GetDSN() string {
	if c.SQLDSN != "" {
		return c.SQLDSN
	}
	if c.SQLDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int {
	return c.ChunkSizeKB * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
