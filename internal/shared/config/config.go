package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Legacy     LegacyDatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Resolver   ResolverConfig
	Guard      GuardConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// LegacyDatabaseConfig holds the connection settings for the previous
// generation of the product, which runs on SQL Server. The shim reads the
// old assignment and autonomy tables from it; migration retirement is the
// only write path.
type LegacyDatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  bool
	// Enabled controls whether the legacy shim is wired at all; a fresh
	// deployment with no legacy users runs without it.
	Enabled bool
}

func (d LegacyDatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		d.Host, d.Port, d.Database, d.User, d.Password)
	if d.Encrypt {
		dsn += ";encrypt=true;TrustServerCertificate=true"
	}
	return dsn
}

// EventStoreConfig holds configuration for the EventStoreDB event bus.
type EventStoreConfig struct {
	Host     string
	Port     int
	Insecure bool
	Username string
	Password string
	Enabled  bool
}

type AuthConfig struct {
	JWTSecret string
}

// ResolverConfig tunes the cached permission resolver.
type ResolverConfig struct {
	// CacheSize is the number of (user, organization) access maps kept.
	CacheSize int
}

// GuardConfig holds the access-guard redirect targets.
type GuardConfig struct {
	DefaultLanding    string
	AccountantLanding string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "platform"),
			Password: getEnv("DB_PASSWORD", "platform"),
			Database: getEnv("DB_NAME", "platform"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Legacy: LegacyDatabaseConfig{
			Host:     getEnv("LEGACY_DB_HOST", "localhost"),
			Port:     getEnvInt("LEGACY_DB_PORT", 1433),
			User:     getEnv("LEGACY_DB_USER", "praxia"),
			Password: getEnv("LEGACY_DB_PASSWORD", ""),
			Database: getEnv("LEGACY_DB_NAME", "praxia_legacy"),
			Encrypt:  getEnvBool("LEGACY_DB_ENCRYPT", false),
			Enabled:  getEnvBool("LEGACY_DB_ENABLED", true),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
			Enabled:  getEnvBool("EVENTSTORE_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
		},
		Resolver: ResolverConfig{
			CacheSize: getEnvInt("RESOLVER_CACHE_SIZE", 4096),
		},
		Guard: GuardConfig{
			DefaultLanding:    getEnv("GUARD_DEFAULT_LANDING", "/dashboard"),
			AccountantLanding: getEnv("GUARD_ACCOUNTANT_LANDING", "/accountant"),
		},
	}, nil
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
