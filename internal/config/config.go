// Package config reads the workstation's runtime configuration from
// the environment.
package config

import (
	"os"
	"strings"
	"time"
)

// Config holds everything main needs to wire the service.
type Config struct {
	Port string // HTTP listen port (default: 8080)

	// Storage backend: a postgres:// URL, a *.db / *.sqlite path, or
	// empty to use JSON files under DataDir.
	DatabaseURL string
	DataDir     string

	// Environment-level runner endpoint; stored settings take
	// precedence per request.
	RunnerBaseURL string
	RunnerToken   string

	// Optional NATS endpoint for mirroring domain events.
	NATSURL string

	ShutdownTimeout time.Duration
	Debug           bool
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DataDir:         getEnv("DATA_DIR", "data"),
		RunnerBaseURL:   os.Getenv("RUNNER_BASE_URL"),
		RunnerToken:     os.Getenv("RUNNER_TOKEN"),
		NATSURL:         os.Getenv("NATS_URL"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Debug:           getEnvBool("DEBUG", false),
	}
}

// StorageKind names the backend selected by the configuration.
func (c Config) StorageKind() string {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres"
	case strings.HasSuffix(c.DatabaseURL, ".db"), strings.HasSuffix(c.DatabaseURL, ".sqlite"):
		return "sqlite"
	default:
		return "jsonfile"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
