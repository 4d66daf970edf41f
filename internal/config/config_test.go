package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendOpenAI, cfg.Provider.Backend)
	assert.Equal(t, 50, cfg.Orchestrator.CacheCap)
	assert.Equal(t, 5*time.Minute, cfg.Orchestrator.CacheTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.RequestDelay)
	assert.Equal(t, 25, cfg.Extractor.MaxDepth)
	assert.Equal(t, 500, cfg.Extractor.MaxElements)
	assert.Equal(t, 100, cfg.Extractor.TextLimit)
	assert.Equal(t, 4000, cfg.Extractor.HTMLContextLimit)
	assert.Equal(t, 10.0, cfg.Differ.PositionThreshold)
	assert.Equal(t, 300, cfg.Differ.UnchangedCeiling)
	assert.Equal(t, 50, cfg.Differ.TextPrefixLen)
	assert.Equal(t, 3, cfg.Executor.MaxAlternatives)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  backend: gemini
  model: gemini-2.0-flash
  api_key: test-key
orchestrator:
  cache_ttl: 90s
logger:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendGemini, cfg.Provider.Backend)
	assert.Equal(t, "gemini-2.0-flash", cfg.Provider.Model)
	assert.Equal(t, "test-key", cfg.Provider.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Orchestrator.CacheTTL)
	assert.Equal(t, "debug", cfg.Logger.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 50, cfg.Orchestrator.CacheCap)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAGEPILOT_PROVIDER_MODEL", "gpt-4.1")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.Provider.Model)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  backend: cohere\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.backend")
}

func TestValidateConstraints(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Provider.Backend = "llama" }, "provider.backend"},
		{"zero cache cap", func(c *Config) { c.Orchestrator.CacheCap = 0 }, "cache_cap"},
		{"zero cache ttl", func(c *Config) { c.Orchestrator.CacheTTL = 0 }, "cache_ttl"},
		{"zero depth", func(c *Config) { c.Extractor.MaxDepth = 0 }, "max_depth"},
		{"element floor", func(c *Config) { c.Extractor.MaxElements = 100 }, "max_elements"},
		{"negative threshold", func(c *Config) { c.Differ.PositionThreshold = -1 }, "position_threshold"},
		{"zero alternatives", func(c *Config) { c.Executor.MaxAlternatives = 0 }, "max_alternatives"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
