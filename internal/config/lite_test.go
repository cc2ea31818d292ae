package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "models/pneumonia.onnx", cfg.ModelPath)
	assert.Equal(t, 224, cfg.ModelInputEdge)
	assert.Equal(t, 128, cfg.InferenceCacheEntries)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	// Clear relevant env vars
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 224, cfg.ModelInputEdge)
	assert.Equal(t, 5.0, cfg.ClassifyPerSecond)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	// Set environment variables
	os.Setenv("SCREENING_DATA_DIR", "/tmp/test-screening")
	os.Setenv("SCREENING_MODEL_PATH", "/opt/models/chest.onnx")
	os.Setenv("SCREENING_MODEL_INPUT_EDGE", "256")
	os.Setenv("SCREENING_CACHE_ENTRIES", "64")
	os.Setenv("SCREENING_HTTP_PORT", "9090")
	os.Setenv("SCREENING_CLASSIFY_PER_SECOND", "2.5")
	os.Setenv("SCREENING_LOG_LEVEL", "debug")

	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-screening", cfg.DataDir)
	assert.Equal(t, "/opt/models/chest.onnx", cfg.ModelPath)
	assert.Equal(t, 256, cfg.ModelInputEdge)
	assert.Equal(t, 64, cfg.InferenceCacheEntries)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 2.5, cfg.ClassifyPerSecond)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadLiteConfig_IgnoresInvalidNumbers(t *testing.T) {
	clearEnvVars(t)

	os.Setenv("SCREENING_HTTP_PORT", "not-a-port")
	os.Setenv("SCREENING_MODEL_INPUT_EDGE", "-1")
	defer clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 224, cfg.ModelInputEdge)
}

func TestLiteConfig_DatabasePath(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.pneumonia-screening"}

	path := cfg.DatabasePath()

	assert.Equal(t, "/home/user/.pneumonia-screening/screening.db", path)
}

func TestLiteConfig_MediaDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.pneumonia-screening"}

	path := cfg.MediaDir()

	assert.Equal(t, "/home/user/.pneumonia-screening/media", path)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "screening")}

	err = cfg.EnsureDataDir()
	require.NoError(t, err)

	// Verify directories exist
	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.MediaDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"SCREENING_DATA_DIR",
		"SCREENING_MODEL_PATH",
		"SCREENING_MODEL_LIBRARY_PATH",
		"SCREENING_MODEL_INPUT_EDGE",
		"SCREENING_CACHE_ENTRIES",
		"SCREENING_HTTP_HOST",
		"SCREENING_HTTP_PORT",
		"SCREENING_CLASSIFY_PER_SECOND",
		"SCREENING_CLASSIFY_BURST",
		"SCREENING_LOG_LEVEL",
		"SCREENING_LOG_FORMAT",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}
