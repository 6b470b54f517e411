package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Extraction.Concurrency)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.InitialBackoff)
	assert.Equal(t, "1", cfg.Extraction.DocumentPages)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
extraction:
  concurrency: 8
dispatch:
  max_attempts: 5
  initial_backoff: 500ms
mail:
  host: smtp.uni.edu
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("ENV_FILE", filepath.Join(dir, "none.env"))
	t.Setenv("EMAIL_ADDRESS", "me@uni.edu")
	t.Setenv("EMAIL_PASSWORD", "secret")
	t.Setenv("SCHOLARDOCK_EXTRACTION_CONCURRENCY", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Extraction.Concurrency)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Dispatch.InitialBackoff)
	assert.Equal(t, "me@uni.edu", cfg.Mail.FromAddress)
	assert.True(t, cfg.Mail.Configured())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Extraction.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Auth.Enabled = true
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
