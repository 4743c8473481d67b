package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/gcperfsim/internal/config"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/results"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.StatusAddr)
	assert.Equal(t, results.BackendNone, cfg.Results.Backend)
	assert.False(t, cfg.StoreResults())
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.History())
	assert.False(t, cfg.Results.UsePathStyle)
	assert.Equal(t, 30*time.Second, cfg.PersistTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GCPERFSIM_LOG_LEVEL", "debug")
	t.Setenv("GCPERFSIM_LOG_FORMAT", "text")
	t.Setenv("GCPERFSIM_STATUS_ADDR", ":9102")
	t.Setenv("GCPERFSIM_RESULTS_BACKEND", "minio")
	t.Setenv("GCPERFSIM_RESULTS_ENDPOINT", "http://minio:9000")
	t.Setenv("GCPERFSIM_RESULTS_BUCKET", "runs")
	t.Setenv("GCPERFSIM_RESULTS_ACCESS_KEY_ID", "key")
	t.Setenv("GCPERFSIM_RESULTS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("GCPERFSIM_DATABASE_URL", "postgres://db/sim")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9102", cfg.StatusAddr)
	assert.Equal(t, results.BackendMinIO, cfg.Results.Backend)
	assert.Equal(t, "http://minio:9000", cfg.Results.Endpoint)
	assert.Equal(t, "runs", cfg.Results.Bucket)
	assert.Equal(t, "key", cfg.Results.AccessKeyID)
	assert.Equal(t, "secret", cfg.Results.SecretAccessKey)
	assert.True(t, cfg.StoreResults())
	assert.Equal(t, "postgres://db/sim", cfg.DatabaseURL)
	assert.True(t, cfg.Results.UsePathStyle, "minio defaults to path-style addressing")
}

func TestLoadTuning(t *testing.T) {
	t.Setenv("GCPERFSIM_RESULTS_BACKEND", "s3")
	t.Setenv("GCPERFSIM_RESULTS_PATH_STYLE", "true")
	t.Setenv("GCPERFSIM_DATABASE_URL", "postgres://db/sim")
	t.Setenv("GCPERFSIM_DATABASE_MAX_CONNS", "9")
	t.Setenv("GCPERFSIM_PERSIST_TIMEOUT", "5s")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Results.UsePathStyle)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	db := cfg.History()
	require.NotNil(t, db)
	assert.Equal(t, "postgres://db/sim", db.URL)
	assert.Equal(t, 9, db.MaxOpenConns)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("GCPERFSIM_RESULTS_BACKEND", "ftp")
	_, err := config.Load()
	assert.Error(t, err)
}
