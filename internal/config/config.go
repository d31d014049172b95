package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	Env         string
	DatabaseDSN string
	JWTSecret   string
	JWTExpiry   time.Duration

	Sync SyncConfig
}

// SyncConfig holds the tunables of the sync engine. Defaults suit field
// deployments with intermittent connectivity; all are overridable from
// the environment.
type SyncConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	ProcessingTimeout time.Duration
	RetentionWindow   time.Duration
	Workers           int
	MaxBatch          int
}

func Load() Config {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseDSN: getEnv("DATABASE_DSN", "root:password@tcp(127.0.0.1:3306)/medisync?parseTime=true"),
		JWTSecret:   getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		JWTExpiry:   24 * time.Hour,
		Sync: SyncConfig{
			MaxRetries:        getEnvInt("SYNC_MAX_RETRIES", 3),
			BaseDelay:         getEnvDuration("SYNC_BASE_DELAY", 2*time.Second),
			MaxDelay:          getEnvDuration("SYNC_MAX_DELAY", 5*time.Minute),
			ProcessingTimeout: getEnvDuration("SYNC_PROCESSING_TIMEOUT", 60*time.Second),
			RetentionWindow:   getEnvDuration("SYNC_RETENTION_WINDOW", 72*time.Hour),
			Workers:           getEnvInt("SYNC_WORKERS", 4),
			MaxBatch:          getEnvInt("SYNC_MAX_BATCH", 500),
		},
	}

	if cfg.Env == "production" && cfg.JWTSecret == "dev-secret-change-in-production" {
		slog.Error("JWT_SECRET must be set in production environment")
		os.Exit(1)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return fallback
	}
	return d
}
