package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castmedia/castmedia_server/internal/pointer"
	"github.com/castmedia/castmedia_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ShouldUseDefaultsWithoutFile(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "missing.yaml")

	// when
	config, err := LoadConfig(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Equal(t, storage.TypeHTTP, config.Storage.Type)
	assert.Equal(t, "media-private", config.Storage.PrivateBucket)
	assert.Equal(t, pointer.DriverMemory, config.Pointers.Driver)
	assert.Equal(t, 6*time.Hour, config.Probe.PositiveTTL)
	assert.Equal(t, 3*time.Minute, config.Probe.NegativeTTL)
	assert.Equal(t, 800*time.Millisecond, config.Probe.Timeout)
	assert.Equal(t, []string{"/avatar/placeholder/", "/proxy?"}, config.Avatar.SafePrefixes)
	assert.Equal(t, 2*time.Second, config.Storage.Timeout)
	assert.Equal(t, time.Minute, config.Storage.StreamTimeout)
}

func TestLoadConfig_ShouldReadFileAndEnvironment(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: s3
  private_bucket: vault
quota:
  images:
    max_count: 5
  categories:
    reel:
      max_mb: 900
`), 0o600))
	t.Setenv("CASTMEDIA_STORAGE_PRIVATE_BUCKET", "vault-env")
	t.Setenv("CASTMEDIA_POINTERS_DRIVER", "redis")

	// when
	config, err := LoadConfig(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, storage.TypeS3, config.Storage.Type)
	assert.Equal(t, "vault-env", config.Storage.PrivateBucket)
	assert.Equal(t, pointer.DriverRedis, config.Pointers.Driver)
	assert.Equal(t, 5, config.Quota.Images.MaxCount)
	assert.Equal(t, int64(900), config.Quota.Categories["reel"].MaxMB)
}

func TestLoadConfig_ShouldFailOnMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0o600))

	_, err := LoadConfig(path)

	assert.Error(t, err)
}
