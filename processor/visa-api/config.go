package visaapi

import (
	"fmt"
	"time"

	"github.com/c360studio/visatrack/config"
)

// Config holds configuration for the visa-api component.
type Config struct {
	// Addr is the TCP listen address, e.g. ":3000".
	Addr string

	// ClientDir holds the built client application and its index.html.
	ClientDir string

	// AssetPatterns select client paths that are served as files.
	// Every other non-API path serves index.html.
	AssetPatterns []string

	// MaxUploadBytes caps upload request bodies.
	MaxUploadBytes int64

	// MaxImportBytes caps import request bodies.
	MaxImportBytes int64

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration

	// RequireAdmin gates mutating routes behind an admin token.
	// When false every caller is treated as admin.
	RequireAdmin bool

	// TokenSecret signs tokens. A random secret is generated when empty,
	// which invalidates tokens on restart.
	TokenSecret string

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
}

// ConfigFrom builds the component configuration from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Addr:              cfg.Addr(),
		ClientDir:         cfg.Server.ClientDir,
		AssetPatterns:     cfg.Server.AssetPatterns,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		MaxImportBytes:    cfg.Server.MaxImportBytes,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		RequireAdmin:      cfg.Auth.RequireAdmin,
		TokenSecret:       cfg.Auth.TokenSecret,
		TokenTTL:          cfg.Auth.TokenTTL,
	}
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig())
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.MaxUploadBytes <= 0 || c.MaxImportBytes <= 0 {
		return fmt.Errorf("request size limits must be positive")
	}
	if c.RequireAdmin && c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive when admin auth is required")
	}
	return nil
}
