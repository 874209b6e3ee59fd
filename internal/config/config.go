// Package config provides environment configuration for the assistant client.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the client and the stub backend.
type Config struct {
	// Backend settings
	BackendURL   string
	BackendToken string

	// Stream settings
	FirstByteTimeout time.Duration
	StreamTimeout    time.Duration
	MaxHistoryTurns  int

	// Probe settings
	ProbeTimeout  time.Duration
	ProbeCacheTTL time.Duration

	// Store settings
	DBPath string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Stub backend settings
	StubPort          string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		BackendURL:   getEnv("ASSISTANT_BACKEND_URL", "http://localhost:8080"),
		BackendToken: getEnv("ASSISTANT_BACKEND_TOKEN", ""),

		// Stream
		FirstByteTimeout: getDurationEnv("STREAM_FIRST_BYTE_TIMEOUT", 30*time.Second),
		StreamTimeout:    getDurationEnv("STREAM_TIMEOUT", 5*time.Minute),
		MaxHistoryTurns:  getIntEnv("MAX_HISTORY_TURNS", 20),

		// Probe
		ProbeTimeout:  getDurationEnv("PROBE_TIMEOUT", 5*time.Second),
		ProbeCacheTTL: getDurationEnv("PROBE_CACHE_TTL", 15*time.Second),

		// Store
		DBPath: getEnv("CONVERSATIONS_DB_PATH", defaultDBPath()),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		// Stub backend
		StubPort:          getEnv("STUB_PORT", "8080"),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "conversations.db"
	}
	return filepath.Join(home, ".assistant", "conversations.db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
