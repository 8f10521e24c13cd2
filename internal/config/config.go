/**
 * Configuration for the document verification worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue, locks, slots, events)
	RedisURL string

	// PostgreSQL configuration
	DatabaseURL string

	// File storage root. Temp and permanent trees live beneath it.
	UploadRoot string

	// OCR configuration
	OCREngine     string // "tsv" runs the tesseract binary, "gosseract" uses libtesseract
	TesseractPath string
	PdftoppmPath  string
	OCRLanguage   string
	OCRTimeout    time.Duration

	// Worker configuration
	WorkerConcurrency int
	ProcessingTimeout time.Duration
	EventChannel      string

	// Upload lifecycle
	LockTTL       time.Duration
	TempTTL       time.Duration
	OrphanTTL     time.Duration
	SweepInterval string

	// Document-type registry override (YAML). Empty uses the embedded default.
	DocumentTypesFile string

	// Municipality the letter and certificate rules check against
	Municipality        string
	MunicipalityAliases []string

	// Ops HTTP endpoint (/metrics, /healthz)
	OpsAddr string

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		UploadRoot:          getEnvOrDefault("UPLOAD_ROOT", "/var/lib/docverify/uploads"),
		OCREngine:           getEnvOrDefault("OCR_ENGINE", "tsv"),
		TesseractPath:       getEnvOrDefault("TESSERACT_PATH", "/usr/bin/tesseract"),
		PdftoppmPath:        getEnvOrDefault("PDFTOPPM_PATH", "/usr/bin/pdftoppm"),
		OCRLanguage:         getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRTimeout:          getEnvAsDurationMsOrDefault("OCR_TIMEOUT_MS", 60000), // 60s
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout:   getEnvAsDurationMsOrDefault("PROCESSING_TIMEOUT_MS", 120000), // 2 minutes
		EventChannel:        getEnvOrDefault("EVENT_CHANNEL", "docverify:events"),
		LockTTL:             getEnvAsDurationMsOrDefault("LOCK_TTL_MS", 30000), // 30s
		TempTTL:             time.Duration(getEnvAsIntOrDefault("TEMP_TTL_HOURS", 24)) * time.Hour,
		OrphanTTL:           time.Duration(getEnvAsIntOrDefault("ORPHAN_TTL_HOURS", 168)) * time.Hour, // 7 days
		SweepInterval:       getEnvOrDefault("SWEEP_INTERVAL", "@every 1h"),
		DocumentTypesFile:   getEnvOrDefault("DOCUMENT_TYPES_FILE", ""),
		Municipality:        getEnvOrDefault("MUNICIPALITY", "General Trias"),
		MunicipalityAliases: getEnvAsListOrDefault("MUNICIPALITY_ALIASES", []string{"generaltrias", "gen trias"}),
		OpsAddr:             getEnvOrDefault("OPS_ADDR", ":9102"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.UploadRoot == "" {
		return fmt.Errorf("UPLOAD_ROOT is required")
	}

	if c.OCREngine != "tsv" && c.OCREngine != "gosseract" {
		return fmt.Errorf("OCR_ENGINE must be tsv or gosseract, got %q", c.OCREngine)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.OCRTimeout < time.Second {
		return fmt.Errorf("OCR_TIMEOUT_MS must be at least 1000, got %d", c.OCRTimeout.Milliseconds())
	}

	if c.ProcessingTimeout < c.OCRTimeout {
		return fmt.Errorf("PROCESSING_TIMEOUT_MS (%d) must not be shorter than OCR_TIMEOUT_MS (%d)",
			c.ProcessingTimeout.Milliseconds(), c.OCRTimeout.Milliseconds())
	}

	if c.LockTTL < time.Second {
		return fmt.Errorf("LOCK_TTL_MS must be at least 1000, got %d", c.LockTTL.Milliseconds())
	}

	if c.TempTTL <= 0 || c.OrphanTTL < c.TempTTL {
		return fmt.Errorf("ORPHAN_TTL_HOURS must be >= TEMP_TTL_HOURS > 0")
	}

	if strings.TrimSpace(c.Municipality) == "" {
		return fmt.Errorf("MUNICIPALITY is required")
	}

	return nil
}

// LockRefresh is how often a running job renews its processing lock.
// Three renewals fit in one TTL, so a single missed refresh does not lose the lock.
func (c *Config) LockRefresh() time.Duration {
	return c.LockTTL / 3
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDurationMsOrDefault reads a millisecond count
func getEnvAsDurationMsOrDefault(key string, defaultMs int64) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return time.Duration(defaultMs) * time.Millisecond
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return time.Duration(defaultMs) * time.Millisecond
	}

	return time.Duration(value) * time.Millisecond
}

// getEnvAsListOrDefault splits a comma-separated variable
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
