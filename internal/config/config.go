// Package config loads fluxion's process settings from the environment and
// its reference data (locations, query templates, shifts) from a YAML
// sources file.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-level settings.
type Config struct {
	// Database settings
	DatabaseURL          string
	WarehouseDatabaseURL string
	MigrationsPath       string
	WarehouseMaxConns    int

	// Reference data
	SourcesFile string

	// Orchestration settings
	MaxRetries         int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	Workers            int
	ErrorRateThreshold float64
	ReconcileDays      int

	// Logging and metrics
	LogLevel    string
	LogFormat   string
	MetricsPort string

	// Temporal settings
	TemporalAddress   string
	TemporalNamespace string
	TemporalTaskQueue string
	SyncCron          string
	ReconcileCron     string

	// Archive settings
	ArchiveEnabled bool
	ArchiveBucket  string
	ArchiveRoot    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	databaseURL := getEnv("DATABASE_URL", "")
	return &Config{
		DatabaseURL:          databaseURL,
		WarehouseDatabaseURL: getEnv("WAREHOUSE_DATABASE_URL", databaseURL),
		MigrationsPath:       getEnv("FLUXION_MIGRATIONS_PATH", "./migrations"),
		WarehouseMaxConns:    getEnvInt("FLUXION_WAREHOUSE_MAX_CONNS", 10),

		SourcesFile: getEnv("FLUXION_SOURCES_FILE", "./sources.yaml"),

		MaxRetries:         getEnvInt("FLUXION_MAX_RETRIES", 3),
		BackoffBase:        getEnvDuration("FLUXION_BACKOFF_BASE", 5*time.Second),
		BackoffCap:         getEnvDuration("FLUXION_BACKOFF_CAP", 5*time.Minute),
		Workers:            getEnvInt("FLUXION_WORKERS", 8),
		ErrorRateThreshold: getEnvFloat("FLUXION_ERROR_RATE_THRESHOLD", 0.01),
		ReconcileDays:      getEnvInt("FLUXION_RECONCILE_DAYS", 7),

		LogLevel:    getEnv("FLUXION_LOG_LEVEL", "info"),
		LogFormat:   getEnv("FLUXION_LOG_FORMAT", "json"),
		MetricsPort: getEnv("FLUXION_METRICS_PORT", "9464"),

		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "fluxion"),
		SyncCron:          getEnv("FLUXION_SYNC_CRON", "15 * * * *"),
		ReconcileCron:     getEnv("FLUXION_RECONCILE_CRON", "0 3 * * *"),

		ArchiveEnabled: getEnvBool("ARCHIVE_ENABLED", false),
		ArchiveBucket:  getEnv("ARCHIVE_BUCKET", "fluxion-archive"),
		ArchiveRoot:    getEnv("ARCHIVE_ROOT", ""),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioRegion:    getEnv("MINIO_REGION", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
