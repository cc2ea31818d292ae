// Package config provides configuration management for the screening server.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pneumonia-screening-server/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external database and stores everything under one
// data directory.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for the SQLite database and images

	// Model settings
	ModelPath        string // Path to the ONNX artifact
	ModelLibraryPath string // Optional: onnxruntime shared library override
	ModelInputEdge   int    // Square input edge the model expects

	// Cache settings
	InferenceCacheEntries int // Maximum cached inference results

	// HTTP settings
	HTTPHost string
	HTTPPort int

	// Rate limiting
	ClassifyPerSecond float64
	ClassifyBurst     int

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".pneumonia-screening")

	return &LiteConfig{
		DataDir:               dataDir,
		ModelPath:             "models/pneumonia.onnx",
		ModelInputEdge:        224,
		InferenceCacheEntries: 128,
		HTTPHost:              "0.0.0.0",
		HTTPPort:              8080,
		ClassifyPerSecond:     5.0,
		ClassifyBurst:         10,
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	// Data directory
	if v := os.Getenv("SCREENING_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Model
	if v := os.Getenv("SCREENING_MODEL_PATH"); v != "" {
		cfg.ModelPath = v
	}
	if v := os.Getenv("SCREENING_MODEL_LIBRARY_PATH"); v != "" {
		cfg.ModelLibraryPath = v
	}
	if v := os.Getenv("SCREENING_MODEL_INPUT_EDGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ModelInputEdge = n
		}
	}

	// Cache
	if v := os.Getenv("SCREENING_CACHE_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.InferenceCacheEntries = n
		}
	}

	// HTTP
	if v := os.Getenv("SCREENING_HTTP_HOST"); v != "" {
		cfg.HTTPHost = v
	}
	if v := os.Getenv("SCREENING_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	// Rate limiting
	if v := os.Getenv("SCREENING_CLASSIFY_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.ClassifyPerSecond = f
		}
	}
	if v := os.Getenv("SCREENING_CLASSIFY_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ClassifyBurst = n
		}
	}

	// Logging
	if v := os.Getenv("SCREENING_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SCREENING_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// DatabasePath returns the path to the SQLite database.
func (c *LiteConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "screening.db")
}

// MediaDir returns the directory for stored chest images.
func (c *LiteConfig) MediaDir() string {
	return filepath.Join(c.DataDir, "media")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.MediaDir(), 0755)
}

// LiteManager adapts a LiteConfig to the ConfigManager interface so the
// HTTP server can be wired identically in both deployment modes.
type LiteManager struct {
	config *domain.Config
}

// NewLiteManager builds a ConfigManager view over a LiteConfig.
func NewLiteManager(c *LiteConfig) *LiteManager {
	return &LiteManager{
		config: &domain.Config{
			Server: domain.ServerConfig{
				Host:         c.HTTPHost,
				Port:         c.HTTPPort,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  120 * time.Second,
			},
			Model: domain.ModelConfig{
				Path:        c.ModelPath,
				LibraryPath: c.ModelLibraryPath,
				InputEdge:   c.ModelInputEdge,
			},
			Storage: domain.StorageConfig{
				MediaDir: c.MediaDir(),
			},
			Cache: domain.CacheConfig{
				InferenceEntries: c.InferenceCacheEntries,
			},
			RateLimit: domain.RateLimitConfig{
				ClassifyPerSecond: c.ClassifyPerSecond,
				ClassifyBurst:     c.ClassifyBurst,
			},
			Logging: domain.LoggingConfig{
				Level:  c.LogLevel,
				Format: c.LogFormat,
			},
		},
	}
}

// GetConfig returns the complete configuration
func (m *LiteManager) GetConfig() *domain.Config { return m.config }

// GetServerConfig returns server configuration
func (m *LiteManager) GetServerConfig() *domain.ServerConfig { return &m.config.Server }

// GetDatabaseConfig returns database configuration; unused in lite mode.
func (m *LiteManager) GetDatabaseConfig() *domain.DatabaseConfig { return &m.config.Database }

// GetModelConfig returns model configuration
func (m *LiteManager) GetModelConfig() *domain.ModelConfig { return &m.config.Model }

// Validate validates the configuration
func (m *LiteManager) Validate() error {
	if m.config.Server.Port <= 0 || m.config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", m.config.Server.Port)
	}
	if m.config.Model.Path == "" {
		return fmt.Errorf("model path is required")
	}
	return nil
}
