package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"audittrail/internal/logger"
)

// Config holds application configuration
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret        string
	JWTExpirationDur time.Duration

	// Audit
	AuditFailOpen  bool
	AuditBatchSize int

	// Rate limiting
	RedisURL          string
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

var appConfig *Config

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if not already loaded
	if err := godotenv.Load(); err != nil {
		logger.Get().Debug("No .env file found, using environment variables")
	}

	config := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "audittrail"),
		DBPassword: getEnv("DB_PASSWORD", "audittrail"),
		DBName:     getEnv("DB_NAME", "audittrail"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// JWT
		JWTSecret:        getEnv("JWT_SECRET", "fallback-secret-key-for-dev-only"),
		JWTExpirationDur: getDuration("JWT_EXPIRES_IN", 24*time.Hour),

		// Audit
		AuditFailOpen:  getBool("AUDIT_FAIL_OPEN", false),
		AuditBatchSize: getInt("AUDIT_BATCH_SIZE", 100),

		// Rate limiting
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RateLimitEnabled:  getBool("RATE_LIMIT_ENABLED", false),
		RateLimitRequests: getInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	if config.AuditBatchSize <= 0 {
		logger.Get().Warn("AUDIT_BATCH_SIZE must be positive, falling back to 100")
		config.AuditBatchSize = 100
	}

	appConfig = config
	return config, nil
}

// Get returns the application configuration
func Get() *Config {
	if appConfig == nil {
		var err error
		appConfig, err = Load()
		if err != nil {
			logger.Get().Fatalf("Failed to load configuration: %v", err)
		}
	}
	return appConfig
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Get().Warnw("Invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Get().Warnw("Invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logger.Get().Warnw("Invalid config value, using default", "key", key, "value", raw, "default", defaultValue)
		return defaultValue
	}
	return v
}
