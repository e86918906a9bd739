package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Broker.MaxAttempts)
	assert.Equal(t, 400, cfg.Chunking.MaxTokens)
	assert.Equal(t, 10*time.Minute, cfg.Discovery.Interval.Std())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docpipe.yaml")
	yaml := `
broker:
  url: amqp://broker:5672/
  max_attempts: 7
  initial_delay: 2s
  max_delay: 45s
chunking:
  max_tokens: 256
vector_store:
  backend: local
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "amqp://broker:5672/", cfg.Broker.URL)
	assert.Equal(t, 7, cfg.Broker.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Broker.InitialDelay.Std())
	assert.Equal(t, 45*time.Second, cfg.Broker.MaxDelay.Std())
	assert.Equal(t, 256, cfg.Chunking.MaxTokens)
	assert.Equal(t, "local", cfg.VectorStore.Backend)
	// Untouched sections keep defaults.
	assert.Equal(t, "document_events", cfg.Broker.Exchange)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  data_dir: from-file\n"), 0o644))

	t.Setenv("DOCPIPE_DATA_DIR", "from-env")
	t.Setenv("DOCPIPE_CHUNK_MAX_TOKENS", "128")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Storage.DataDir)
	assert.Equal(t, 128, cfg.Chunking.MaxTokens)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_101")
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "document_events", cfg.Broker.Exchange)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Broker.MaxAttempts = 0 }},
		{"inverted delays", func(c *Config) { c.Broker.MaxDelay = Duration(time.Millisecond) }},
		{"zero tokens", func(c *Config) { c.Chunking.MaxTokens = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"bad backend", func(c *Config) { c.VectorStore.Backend = "chroma" }},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "llama" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
