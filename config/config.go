// Package config provides configuration loading and management for visatrack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Config represents the complete visatrack configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Auth   AuthConfig   `yaml:"auth"`
}

// ServerConfig configures the HTTP gateway
type ServerConfig struct {
	// Port is the TCP port to listen on (default: 3000)
	Port int `yaml:"port"`
	// ClientDir holds the built single-page client
	ClientDir string `yaml:"client_dir"`
	// AssetPatterns are doublestar globs, relative to ClientDir, that are
	// served as files instead of falling back to index.html
	AssetPatterns []string `yaml:"asset_patterns"`
	// MaxUploadBytes caps a single upload request body
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// MaxImportBytes caps an import request body, which is read fully into memory
	MaxImportBytes int64 `yaml:"max_import_bytes"`
	// ReadHeaderTimeout bounds how long a client may take to send headers
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// DataConfig configures on-disk storage
type DataConfig struct {
	// Dir holds settings.json and applicants.json
	Dir string `yaml:"dir"`
	// UploadsDir holds uploaded documents
	UploadsDir string `yaml:"uploads_dir"`
	// Watch logs edits made to the data files by other processes
	Watch bool `yaml:"watch"`
	// WatchDebounce groups bursts of file events
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// AuthConfig configures admin access
type AuthConfig struct {
	// RequireAdmin gates mutating routes behind an admin token
	RequireAdmin bool `yaml:"require_admin"`
	// TokenSecret signs admin tokens (random per process when empty)
	TokenSecret string `yaml:"token_secret"`
	// TokenTTL is how long an admin token stays valid
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      3000,
			ClientDir: "public",
			AssetPatterns: []string{
				"assets/**",
				"*.{js,css,map}",
				"*.{ico,png,svg,jpg,webp}",
				"*.webmanifest",
				"robots.txt",
			},
			MaxUploadBytes:    50 << 20,
			MaxImportBytes:    50 << 20,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Data: DataConfig{
			Dir:           "data",
			UploadsDir:    "uploads",
			Watch:         false,
			WatchDebounce: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			RequireAdmin: true,
			TokenSecret:  "",
			TokenTTL:     12 * time.Hour,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Server.MaxImportBytes <= 0 {
		return fmt.Errorf("server.max_import_bytes must be positive")
	}
	for _, p := range c.Server.AssetPatterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("server.asset_patterns: invalid pattern %q", p)
		}
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.UploadsDir == "" {
		return fmt.Errorf("data.uploads_dir is required")
	}
	if c.Data.Watch && c.Data.WatchDebounce <= 0 {
		return fmt.Errorf("data.watch_debounce must be positive when data.watch is enabled")
	}
	if c.Auth.RequireAdmin && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive when auth.require_admin is enabled")
	}
	return nil
}

// Addr returns the listen address for the gateway.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// ${VAR} and ${VAR:-default} references are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := config.loadFile(path, os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// loadFile decodes a YAML file over the current values. Keys absent from the
// file keep whatever value c already holds.
func (c *Config) loadFile(path string, lookup func(string) (string, bool)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := ExpandEnvWithDefaults(string(data), lookup)
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
