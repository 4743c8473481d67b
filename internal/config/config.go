// Package config handles process settings read from the environment.
package config

import (
	"time"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/results"
	"github.com/container-resource-predictor/gcperfsim/pkg/common"
)

// Config holds the settings that are not part of the simulated workload.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Status server address; empty disables the server
	StatusAddr string

	// Report storage
	Results results.StorageConfig

	// Postgres run history; empty disables it
	DatabaseURL      string
	DatabaseMaxConns int

	// PersistTimeout bounds storing a finished run.
	PersistTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	backend, err := results.ParseBackend(common.GetEnv("GCPERFSIM_RESULTS_BACKEND", "none"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:   common.GetEnv("GCPERFSIM_LOG_LEVEL", "info"),
		LogFormat:  common.GetEnv("GCPERFSIM_LOG_FORMAT", "json"),
		StatusAddr: common.GetEnv("GCPERFSIM_STATUS_ADDR", ""),
		Results: results.StorageConfig{
			Backend:         backend,
			LocalPath:       common.GetEnv("GCPERFSIM_RESULTS_LOCAL_PATH", "./gcperfsim-results"),
			Endpoint:        common.GetEnv("GCPERFSIM_RESULTS_ENDPOINT", ""),
			Region:          common.GetEnv("GCPERFSIM_RESULTS_REGION", "us-east-1"),
			Bucket:          common.GetEnv("GCPERFSIM_RESULTS_BUCKET", "gcperfsim-results"),
			AccessKeyID:     common.GetEnv("GCPERFSIM_RESULTS_ACCESS_KEY_ID", ""),
			SecretAccessKey: common.GetEnv("GCPERFSIM_RESULTS_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    common.GetEnvBool("GCPERFSIM_RESULTS_PATH_STYLE", backend == results.BackendMinIO),
		},
		DatabaseURL:      common.GetEnv("GCPERFSIM_DATABASE_URL", ""),
		DatabaseMaxConns: common.GetEnvInt("GCPERFSIM_DATABASE_MAX_CONNS", 4),
		PersistTimeout:   common.GetEnvDuration("GCPERFSIM_PERSIST_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

// StoreResults reports whether finished runs should be persisted.
func (c *Config) StoreResults() bool {
	return c.Results.Backend != results.BackendNone
}

// History returns the run history database settings, or nil when no
// database is configured.
func (c *Config) History() *results.DBConfig {
	if c.DatabaseURL == "" {
		return nil
	}
	db := results.DefaultDBConfig(c.DatabaseURL)
	if c.DatabaseMaxConns > 0 {
		db.MaxOpenConns = c.DatabaseMaxConns
	}
	return db
}
