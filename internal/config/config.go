package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Service ServiceConfig
	Store   StoreConfig
	NATS    NATSConfig
	SQLite  SQLiteConfig
	Cache   CacheConfig
	Status  StatusConfig
	Auth    AuthConfig
	Logging LoggingConfig
}

// ServiceConfig holds service-level configuration
type ServiceConfig struct {
	Name    string
	Version string
	Host    string
	Port    int
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Backend string // "nats" or "sqlite"
}

// NATSConfig holds NATS KV backend configuration
type NATSConfig struct {
	Embedded      bool
	ServerURL     string
	DataDir       string
	UsersBucket   string
	DevicesBucket string
	StartTimeout  string
}

// SQLiteConfig holds SQLite backend configuration
type SQLiteConfig struct {
	Path        string
	BusyTimeout int // milliseconds
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	SnapshotTTL string // User snapshot max age before reload
	VerdictTTL  string // Secret-verification verdict lifetime
	MaxCost     int64  // Ristretto: maximum memory cost in bytes
	NumCounters int64  // Ristretto: number of counters for TinyLFU
	BufferItems int64  // Ristretto: buffer size for async operations
	Metrics     bool   // Ristretto: enable cache metrics
}

// StatusConfig tunes the viewer-facing payload
type StatusConfig struct {
	TimeZone    string
	Description string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Service: ServiceConfig{
			Name:    getEnvOrDefault("SERVICE_NAME", "presenceboard"),
			Version: getEnvOrDefault("SERVICE_VERSION", "v1"),
			Host:    getEnvOrDefault("SERVICE_HOST", ""),
			Port:    getEnvIntOrDefault("SERVICE_PORT", 8080),
		},
		Store: StoreConfig{
			Backend: getEnvOrDefault("STORE_BACKEND", "nats"),
		},
		NATS: NATSConfig{
			Embedded:      getEnvBoolOrDefault("NATS_EMBEDDED", true),
			ServerURL:     getEnvOrDefault("NATS_SERVER_URL", ""),
			DataDir:       getEnvOrDefault("NATS_DATA_DIR", "./nats-data"),
			UsersBucket:   getEnvOrDefault("NATS_USERS_BUCKET", "users"),
			DevicesBucket: getEnvOrDefault("NATS_DEVICES_BUCKET", "devices"),
			StartTimeout:  getEnvOrDefault("NATS_START_TIMEOUT", "30s"),
		},
		SQLite: SQLiteConfig{
			Path:        getEnvOrDefault("SQLITE_PATH", "./data/presenceboard.db"),
			BusyTimeout: getEnvIntOrDefault("SQLITE_BUSY_TIMEOUT_MS", 5000),
		},
		Cache: CacheConfig{
			SnapshotTTL: getEnvOrDefault("CACHE_TTL", "60s"),
			VerdictTTL:  getEnvOrDefault("CACHE_VERDICT_TTL", "60s"),
			MaxCost:     getEnvInt64OrDefault("CACHE_MAX_COST", 1<<20),
			NumCounters: getEnvInt64OrDefault("CACHE_NUM_COUNTERS", 10000),
			BufferItems: getEnvInt64OrDefault("CACHE_BUFFER_ITEMS", 64),
			Metrics:     getEnvBoolOrDefault("CACHE_METRICS", true),
		},
		Status: StatusConfig{
			TimeZone:    getEnvOrDefault("TIME_ZONE", "Asia/Shanghai"),
			Description: getEnvOrDefault("STATUS_DESC", "live status"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvOrDefault("JWT_SECRET", ""),
			JWTIssuer: getEnvOrDefault("JWT_ISSUER", "presenceboard"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	switch config.Store.Backend {
	case "nats", "sqlite":
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be \"nats\" or \"sqlite\", got %q", config.Store.Backend)
	}

	return config, nil
}

// GetSnapshotTTL returns the user snapshot TTL as a duration
func (c *CacheConfig) GetSnapshotTTL() (time.Duration, error) {
	return time.ParseDuration(c.SnapshotTTL)
}

// GetVerdictTTL returns the verdict cache TTL as a duration
func (c *CacheConfig) GetVerdictTTL() (time.Duration, error) {
	return time.ParseDuration(c.VerdictTTL)
}

// Addr returns the listen address
func (c *ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
