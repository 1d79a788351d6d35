package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
pipeline:
  base_url: https://staging.example.com
  run_deadline_minutes: 45
  entity_qps: 1.5
  min_delay_ms: 100
  max_delay_ms: 400
  result_topic: results.staging
  evening: true
browser:
  nav_timeout_seconds: 90
solver:
  api_key: secret
  poll_interval_seconds: 3
cache:
  max_age_hours: 12
storage:
  backend: gcs
  gcs_bucket: raw-bodies
db:
  dsn: postgres://localhost/racepipe
  max_conns: 10
pubsub:
  project_id: racepipe-prod
  topic_name: results
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "https://staging.example.com", cfg.Pipeline.BaseURL)
	require.Equal(t, 1.5, cfg.Pipeline.EntityQPS)
	require.True(t, cfg.Pipeline.Evening)
	require.Equal(t, 90, cfg.Browser.NavTimeoutSec)
	require.Equal(t, "secret", cfg.Solver.APIKey)
	require.Equal(t, 12, cfg.Cache.MaxAgeHours)
	require.Equal(t, "gcs", cfg.Storage.Backend)
	require.Equal(t, "raw-bodies", cfg.Storage.GCSBucket)
	require.Equal(t, 10, cfg.DB.MaxConns)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, 45*time.Minute, cfg.RunDeadline())
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "https://www.equibase.com", cfg.Pipeline.BaseURL)
	require.Equal(t, 0.5, cfg.Pipeline.EntityQPS)
	require.Equal(t, "racepipe.results", cfg.Pipeline.ResultTopic)
	require.Equal(t, "https://2captcha.com", cfg.Solver.BaseURL)
	require.Equal(t, 24, cfg.Cache.MaxAgeHours)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "runs", cfg.DB.RunsTable)
	require.True(t, cfg.Logging.Development)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Pipeline: PipelineConfig{
			BaseURL:            "https://www.equibase.com",
			RunDeadlineMinutes: 30,
			EntityQPS:          0.5,
			MinDelayMs:         500,
			MaxDelayMs:         2500,
		},
		Browser: BrowserConfig{NavTimeoutSec: 60},
		Cache:   CacheConfig{MaxAgeHours: 24},
		Storage: StorageConfig{Backend: "local"},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"missing base url", func(c *Config) { c.Pipeline.BaseURL = "" }, "pipeline.base_url"},
		{"invalid deadline", func(c *Config) { c.Pipeline.RunDeadlineMinutes = 0 }, "run_deadline_minutes"},
		{"invalid qps", func(c *Config) { c.Pipeline.EntityQPS = 0 }, "entity_qps"},
		{"inverted delays", func(c *Config) { c.Pipeline.MaxDelayMs = 100 }, "max_delay_ms"},
		{"invalid nav timeout", func(c *Config) { c.Browser.NavTimeoutSec = 0 }, "nav_timeout_seconds"},
		{"invalid cache age", func(c *Config) { c.Cache.MaxAgeHours = 0 }, "max_age_hours"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "gcs_bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
