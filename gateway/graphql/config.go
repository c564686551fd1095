package graphql

import (
	"fmt"
	"time"

	"github.com/c360/metagraph/errors"
)

// Config holds configuration for the GraphQL gateway
type Config struct {
	// BindAddress is the HTTP bind address (default: ":8080")
	BindAddress string `json:"bind_address"`

	// Path is the GraphQL endpoint path (default: "/graphql")
	Path string `json:"path"`

	// EnablePlayground enables the GraphQL Playground UI (default: false)
	EnablePlayground bool `json:"enable_playground"`

	// EnableCORS enables CORS headers (default: false)
	EnableCORS bool `json:"enable_cors"`

	// CORSOrigins lists allowed CORS origins (default: ["*"] when CORS is on)
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// TimeoutStr is the per-request timeout (default: "30s")
	TimeoutStr string `json:"timeout,omitempty"`

	// SchemaCacheSize bounds the per-container schema cache (default: 100)
	SchemaCacheSize int `json:"schema_cache_size,omitempty"`

	// timeout is the parsed duration (internal use)
	timeout time.Duration
}

// Validate fills defaults and checks the configuration
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		c.BindAddress = ":8080"
	}

	if c.Path == "" {
		c.Path = "/graphql"
	}
	if c.Path[0] != '/' {
		return errors.WrapValidation(errors.ErrInvalidData, "Config", "Validate",
			"path must start with /")
	}

	if c.TimeoutStr == "" {
		c.timeout = 30 * time.Second
	} else {
		timeout, err := time.ParseDuration(c.TimeoutStr)
		if err != nil {
			return errors.WrapValidation(err, "Config", "Validate",
				fmt.Sprintf("invalid timeout format: %s", c.TimeoutStr))
		}
		if timeout < 100*time.Millisecond || timeout > 5*time.Minute {
			return errors.WrapValidation(errors.ErrInvalidData, "Config", "Validate",
				"timeout must be between 100ms and 5m")
		}
		c.timeout = timeout
	}

	if c.SchemaCacheSize == 0 {
		c.SchemaCacheSize = 100
	}
	if c.SchemaCacheSize < 0 {
		return errors.WrapValidation(errors.ErrInvalidData, "Config", "Validate",
			"schema_cache_size cannot be negative")
	}

	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}

	return nil
}

// Timeout returns the parsed request timeout
func (c *Config) Timeout() time.Duration {
	return c.timeout
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		BindAddress:      ":8080",
		Path:             "/graphql",
		EnablePlayground: true,
		EnableCORS:       true,
		CORSOrigins:      []string{"*"},
		TimeoutStr:       "30s",
		SchemaCacheSize:  100,
	}
}
