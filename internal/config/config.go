package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds the server configuration
type Config struct {
	ServerPort     int    `envconfig:"SERVER_PORT" default:"8080"`
	DatabaseDriver string `envconfig:"DATABASE_DRIVER" default:"postgres"`
	// DatabaseURL is a Postgres URL or a SQLite file path
	DatabaseURL string `envconfig:"DATABASE_URL"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	// AuthRequired makes every matching route demand a bearer token and
	// act on behalf of its subject
	AuthRequired bool `envconfig:"AUTH_REQUIRED" default:"false"`

	AllowedOrigins   []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:3000"`
	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`

	SeedUsersFile string        `envconfig:"SEED_USERS_FILE"`
	StoreTimeout  time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
}

// Load reads the configuration from the environment
func Load(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return err
	}
	return cfg.Validate()
}

// Validate checks combinations envconfig tags cannot express
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver '%s'", c.DatabaseDriver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER '%s'", c.DatabaseDriver)
	}

	if c.AuthRequired && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required when AUTH_REQUIRED is set")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	return nil
}
