package main

import (
	"fmt"
	"os"
	"strings"
)

// Config holds all configuration for the migration tool.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// MigrationTable is the name of the table used to track applied migrations.
	MigrationTable string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	config := &Config{
		DatabaseURL:    getEnvOrDefault("DATABASE_URL", ""),
		MigrationTable: getEnvOrDefault("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL cannot be empty")
	}

	if c.MigrationTable == "" {
		return fmt.Errorf("MIGRATION_TABLE cannot be empty")
	}

	return nil
}

// String returns a representation of the configuration safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// maskDatabaseURL replaces the password component of a database URL with
// asterisks so connection strings can be logged.
func maskDatabaseURL(url string) string {
	schemeEnd := strings.Index(url, "//")
	if schemeEnd == -1 {
		return url
	}

	authority := url[schemeEnd+2:]
	if end := strings.IndexAny(authority, "/?#"); end != -1 {
		authority = authority[:end]
	}

	// The last "@" separates user info from host, in case the password
	// itself contains "@".
	at := strings.LastIndex(authority, "@")
	if at == -1 {
		return url
	}

	userinfo := authority[:at]

	colon := strings.Index(userinfo, ":")
	if colon == -1 || colon == len(userinfo)-1 {
		return url
	}

	masked := userinfo[:colon+1] + "***"

	return url[:schemeEnd+2] + masked + url[schemeEnd+2+at:]
}
