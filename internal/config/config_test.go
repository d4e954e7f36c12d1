package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INDEXQUEUE_SIGNING_SECRET", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultAddress, cfg.Address)
	assert.Equal(t, defaultBatchSize, cfg.IndexBatchSize)
	assert.Equal(t, defaultLease, cfg.LeaseDuration)
	assert.Len(t, cfg.SigningSecret, 32)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.Equal(t, defaultSchedule, cfg.Schedule)
	assert.False(t, cfg.S3Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INDEXQUEUE_ADDRESS", ":9999")
	t.Setenv("INDEXQUEUE_SIGNING_SECRET", "secret")
	t.Setenv("INDEXQUEUE_BATCH_SIZE", "10")
	t.Setenv("INDEXQUEUE_WORKERS", "-1")
	t.Setenv("INDEXQUEUE_LEASE", "30s")
	t.Setenv("INDEXQUEUE_S3_USE_SSL", "true")
	t.Setenv("INDEXQUEUE_DEBUG", "1")
	t.Setenv("INDEXQUEUE_REDIS_DB", "3")
	t.Setenv("INDEXQUEUE_S3_ACCESS_KEY", "key")
	t.Setenv("INDEXQUEUE_S3_SECRET_KEY", "secret")
	t.Setenv("INDEXQUEUE_RENDER_TIMEOUT", "not a duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Address)
	assert.Equal(t, []byte("secret"), cfg.SigningSecret)
	assert.Equal(t, 10, cfg.IndexBatchSize)
	assert.Equal(t, defaultConcurrency, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.LeaseDuration)
	assert.Equal(t, defaultPageTimeout, cfg.PageRequestTimeout)
	assert.True(t, cfg.S3UseSSL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.S3Enabled())
}
