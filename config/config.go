// Package config loads the warehouse configuration from a JSON file with
// environment variable overrides. Every section validates itself and fills
// its defaults; a zero-value Config validates into a runnable local setup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/c360/metagraph/errors"
)

// Config is the full warehouse configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Cache    CacheConfig    `json:"cache"`
	NATS     NATSConfig     `json:"nats"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig configures the GraphQL gateway
type ServerConfig struct {
	BindAddress      string `json:"bind_address"`
	EnablePlayground bool   `json:"enable_playground"`
	TimeoutStr       string `json:"timeout,omitempty"`

	timeout time.Duration
}

// Validate fills defaults and checks the server section
func (c *ServerConfig) Validate() error {
	if c.BindAddress == "" {
		c.BindAddress = ":8080"
	}

	if c.TimeoutStr == "" {
		c.timeout = 30 * time.Second
		return nil
	}
	timeout, err := time.ParseDuration(c.TimeoutStr)
	if err != nil {
		return errors.WrapValidation(err, "ServerConfig", "Validate",
			fmt.Sprintf("invalid timeout %q", c.TimeoutStr))
	}
	if timeout < 100*time.Millisecond || timeout > 5*time.Minute {
		return errors.WrapValidation(errors.ErrInvalidData, "ServerConfig", "Validate",
			"timeout must be between 100ms and 5m")
	}
	c.timeout = timeout
	return nil
}

// Timeout returns the parsed request timeout
func (c *ServerConfig) Timeout() time.Duration {
	return c.timeout
}

// DatabaseConfig selects and configures the warehouse database
type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// Validate fills defaults and checks the database section
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	switch c.Driver {
	case "sqlite":
		if c.DSN == "" {
			c.DSN = "file:metagraph.db"
		}
	case "postgres":
		if c.DSN == "" {
			return errors.WrapValidation(errors.ErrMissingField, "DatabaseConfig", "Validate",
				"postgres requires a dsn")
		}
	default:
		return errors.WrapValidation(errors.ErrInvalidData, "DatabaseConfig", "Validate",
			fmt.Sprintf("unsupported driver %q", c.Driver))
	}
	return nil
}

// CacheConfig bounds the mapping and schema caches
type CacheConfig struct {
	MappingCacheSize int `json:"mapping_cache_size"`
	SchemaCacheSize  int `json:"schema_cache_size"`
}

// Validate fills defaults and checks the cache section
func (c *CacheConfig) Validate() error {
	if c.MappingCacheSize == 0 {
		c.MappingCacheSize = 1000
	}
	if c.SchemaCacheSize == 0 {
		c.SchemaCacheSize = 100
	}
	if c.MappingCacheSize < 0 || c.SchemaCacheSize < 0 {
		return errors.WrapValidation(errors.ErrInvalidData, "CacheConfig", "Validate",
			"cache sizes cannot be negative")
	}
	return nil
}

// NATSConfig configures optional event publication. An empty URL disables
// events entirely.
type NATSConfig struct {
	URL string `json:"url,omitempty"`
}

// Validate checks the NATS section
func (c *NATSConfig) Validate() error {
	return nil
}

// Enabled reports whether event publication is configured
func (c *NATSConfig) Enabled() bool {
	return c.URL != ""
}

// LoggingConfig configures slog output
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Validate fills defaults and checks the logging section
func (c *LoggingConfig) Validate() error {
	if c.Level == "" {
		c.Level = "info"
	}
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapValidation(errors.ErrInvalidData, "LoggingConfig", "Validate",
			fmt.Sprintf("unknown log level %q", c.Level))
	}

	if c.Format == "" {
		c.Format = "text"
	}
	switch c.Format {
	case "text", "json":
	default:
		return errors.WrapValidation(errors.ErrInvalidData, "LoggingConfig", "Validate",
			fmt.Sprintf("unknown log format %q", c.Format))
	}
	return nil
}

// Validate validates every section in order
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.NATS.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// Load reads the configuration file, applies environment overrides, and
// validates. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "Config", "Load", "config file read")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapValidation(err, "Config", "Load", "config file decode")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override file settings
// without editing the file
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"METAGRAPH_BIND_ADDRESS": &cfg.Server.BindAddress,
		"METAGRAPH_DB_DRIVER":    &cfg.Database.Driver,
		"METAGRAPH_DB_DSN":       &cfg.Database.DSN,
		"METAGRAPH_NATS_URL":     &cfg.NATS.URL,
		"METAGRAPH_LOG_LEVEL":    &cfg.Logging.Level,
		"METAGRAPH_LOG_FORMAT":   &cfg.Logging.Format,
	}
	for key, target := range overrides {
		if value := os.Getenv(key); value != "" {
			*target = value
		}
	}
}
