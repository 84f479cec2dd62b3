// Package config provides configuration management for the invoice memory
// service. It loads settings from environment variables with the INVOICEMEM_
// prefix and provides sensible defaults for all configuration options.
//
// The CLI layers a YAML config file and command-line flags on top of these
// values (see cmd/invoicemem); everything else reads a *Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "INVOICEMEM_"

// Config holds all configuration settings for the invoice memory service.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Engine   EngineConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int    // Server port (default: 7474)
	Host            string // Server host (default: 127.0.0.1)
	EnableWebSocket bool   // Serve the /ws decision feed (default: true)
	MaxBatchSize    int    // Invoices accepted per batch request (default: 500)
	MaxBatchWorkers int    // Concurrent invoices per batch request (default: 8)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite or postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres

	SnapshotKeep     int           // Snapshots retained (default: 10)
	SnapshotInterval time.Duration // Periodic snapshot interval while serving, 0 disables
}

// SQLitePath returns the database file used by the sqlite engine.
func (s StorageConfig) SQLitePath() string {
	return filepath.Join(s.DataPath, "invoicemem.db")
}

// SnapshotDir returns the directory holding SQLite snapshots.
func (s StorageConfig) SnapshotDir() string {
	return filepath.Join(s.DataPath, "snapshots")
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string // debug, info, warn, error (default: info)
	Format string // text, json, logfmt (default: text)
}

// EngineConfig carries the tunables of the recall/apply/decide/learn pipeline.
// engine.ConfigFromGlobal converts it into the engine's own Config.
type EngineConfig struct {
	AutoAcceptThreshold        float64
	AutoCorrectThreshold       float64
	EscalateThreshold          float64
	MemoryApplicationThreshold float64

	DecayGraceDays int
	DecayRate      float64

	RecallMinConfidence float64
	RecallLimit         int

	RequestTimeout time.Duration

	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the INVOICEMEM_ prefix.
func LoadConfig() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot guarantee.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: INVOICEMEM_POSTGRES_DSN is required for the postgres engine")
		}
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.StorageEngine)
	}

	if c.Server.MaxBatchSize < 1 || c.Server.MaxBatchWorkers < 1 {
		return fmt.Errorf("config: batch limits must be positive (size %d, workers %d)",
			c.Server.MaxBatchSize, c.Server.MaxBatchWorkers)
	}

	if c.Storage.SnapshotKeep < 1 {
		return fmt.Errorf("config: snapshot keep must be at least 1, got %d", c.Storage.SnapshotKeep)
	}
	if c.Storage.SnapshotInterval < 0 {
		return fmt.Errorf("config: negative snapshot interval %s", c.Storage.SnapshotInterval)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}

	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return errors.New("config: INVOICEMEM_API_TOKEN is required in production mode")
	}

	e := c.Engine
	if !(e.EscalateThreshold < e.AutoCorrectThreshold && e.AutoCorrectThreshold <= e.AutoAcceptThreshold) {
		return fmt.Errorf("config: thresholds must satisfy escalate < auto_correct <= auto_accept (got %.2f, %.2f, %.2f)",
			e.EscalateThreshold, e.AutoCorrectThreshold, e.AutoAcceptThreshold)
	}
	if e.DecayRate <= 0 || e.DecayRate > 1 {
		return fmt.Errorf("config: decay rate must be in (0, 1], got %.2f", e.DecayRate)
	}
	return nil
}

// FromEnv constructs a Config from environment variables and defaults without
// validating it. Callers that layer further overrides on top (the CLI's
// config file and flags) validate once they are done.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnvInt("INVOICEMEM_PORT", 7474),
			Host:            getEnv("INVOICEMEM_HOST", "127.0.0.1"),
			EnableWebSocket: getEnvBool("INVOICEMEM_ENABLE_WEBSOCKET", true),
			MaxBatchSize:    getEnvInt("INVOICEMEM_MAX_BATCH_SIZE", 500),
			MaxBatchWorkers: getEnvInt("INVOICEMEM_MAX_BATCH_WORKERS", 8),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("INVOICEMEM_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("INVOICEMEM_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("INVOICEMEM_POSTGRES_DSN", ""),

			SnapshotKeep:     getEnvInt("INVOICEMEM_SNAPSHOT_KEEP", 10),
			SnapshotInterval: getEnvDuration("INVOICEMEM_SNAPSHOT_INTERVAL", 0),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("INVOICEMEM_SECURITY_MODE", "development"),
			APIToken:     getEnv("INVOICEMEM_API_TOKEN", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("INVOICEMEM_LOG_LEVEL", "info"),
			Format: getEnv("INVOICEMEM_LOG_FORMAT", "text"),
		},
		Engine: EngineConfig{
			AutoAcceptThreshold:        getEnvFloat("INVOICEMEM_AUTO_ACCEPT_THRESHOLD", 0.85),
			AutoCorrectThreshold:       getEnvFloat("INVOICEMEM_AUTO_CORRECT_THRESHOLD", 0.65),
			EscalateThreshold:          getEnvFloat("INVOICEMEM_ESCALATE_THRESHOLD", 0.4),
			MemoryApplicationThreshold: getEnvFloat("INVOICEMEM_MEMORY_APPLICATION_THRESHOLD", 0.5),
			DecayGraceDays:             getEnvInt("INVOICEMEM_DECAY_GRACE_DAYS", 7),
			DecayRate:                  getEnvFloat("INVOICEMEM_DECAY_RATE", 0.95),
			RecallMinConfidence:        getEnvFloat("INVOICEMEM_RECALL_MIN_CONFIDENCE", 0.3),
			RecallLimit:                getEnvInt("INVOICEMEM_RECALL_LIMIT", 50),
			RequestTimeout:             getEnvDuration("INVOICEMEM_REQUEST_TIMEOUT", 30*time.Second),
			BreakerMaxFailures:         getEnvInt("INVOICEMEM_BREAKER_MAX_FAILURES", 5),
			BreakerTimeout:             getEnvDuration("INVOICEMEM_BREAKER_TIMEOUT", 30*time.Second),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration parses values such as "30s" or "2m".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
