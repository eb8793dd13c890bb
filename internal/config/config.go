// Package config loads and validates runtime configuration at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the watcher service.
type Config struct {
	DatabaseURL         string
	RedisURL            string
	SourceCatalogPath   string // YAML file listing the sources to watch
	ScrapeIntervalHours int    // how often the cron job fires
	ScrapeWorkers       int    // bounded worker-pool size
	RetryAttempts       int    // extraction retry budget per session
	AttemptTimeoutSecs  int    // hard per-attempt extractor deadline
}

// Load reads environment variables and returns a validated Config.
// A .env file, when present, seeds the environment for local runs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	catalogPath := os.Getenv("SOURCE_CATALOG")
	if catalogPath == "" {
		catalogPath = "config/sources.yaml"
	}

	interval, err := positiveInt("SCRAPE_INTERVAL_HOURS", 6)
	if err != nil {
		return nil, err
	}
	workers, err := positiveInt("SCRAPE_WORKERS", 4)
	if err != nil {
		return nil, err
	}
	attempts, err := positiveInt("SCRAPE_RETRY_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}
	attemptTimeout, err := positiveInt("SCRAPE_ATTEMPT_TIMEOUT_SECONDS", 120)
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:         dbURL,
		RedisURL:            redisURL,
		SourceCatalogPath:   catalogPath,
		ScrapeIntervalHours: interval,
		ScrapeWorkers:       workers,
		RetryAttempts:       attempts,
		AttemptTimeoutSecs:  attemptTimeout,
	}, nil
}

func positiveInt(name string, fallback int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, s)
	}
	return v, nil
}
