package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Server.ListenAddr)
	assert.Equal(t, 50, cfg.Sync.MaxPagesPerRun)
	assert.Equal(t, 10*time.Minute, cfg.Sync.MaxRunTime)
	assert.Equal(t, 512, cfg.Sync.EnrichQueueSize)
	assert.Equal(t, "crosswire-attachments", cfg.Storage.Bucket)
}

func TestFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9000"
sync:
  max_pages_per_run: 5
openai:
  api_key: from-file
`), 0o600))

	t.Setenv("CROSSWIRE_OPENAI_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, 5, cfg.Sync.MaxPagesPerRun)
	assert.Equal(t, "from-env", cfg.OpenAI.APIKey, "environment wins over the file")
}

func TestDatabaseURLFallback(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:pw@db:5432/crosswire")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://app:pw@db:5432/crosswire", cfg.Database.URL)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.Secrets.Passphrase = "p"
	require.Error(t, cfg.Validate())

	cfg.OpenAI.APIKey = "k"
	require.NoError(t, cfg.Validate())
}
