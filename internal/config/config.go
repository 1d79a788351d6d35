// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Solver   SolverConfig   `mapstructure:"solver"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PipelineConfig governs run pacing and scope.
type PipelineConfig struct {
	BaseURL            string  `mapstructure:"base_url"`
	RunDeadlineMinutes int     `mapstructure:"run_deadline_minutes"`
	EntityQPS          float64 `mapstructure:"entity_qps"`
	MinDelayMs         int     `mapstructure:"min_delay_ms"`
	MaxDelayMs         int     `mapstructure:"max_delay_ms"`
	ResultTopic        string  `mapstructure:"result_topic"`
	Evening            bool    `mapstructure:"evening"`
}

// BrowserConfig configures the shared headless browser session.
type BrowserConfig struct {
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
}

// SolverConfig holds captcha solving service credentials and pacing.
type SolverConfig struct {
	APIKey          string `mapstructure:"api_key"`
	BaseURL         string `mapstructure:"base_url"`
	PollIntervalSec int    `mapstructure:"poll_interval_seconds"`
	TimeoutSec      int    `mapstructure:"timeout_seconds"`
}

// CacheConfig controls body cache freshness.
type CacheConfig struct {
	MaxAgeHours int `mapstructure:"max_age_hours"`
}

// StorageConfig selects and configures the raw-body archive backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational run store. An empty DSN keeps
// runs in memory.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	RunsTable    string `mapstructure:"runs_table"`
	ResultsTable string `mapstructure:"results_table"`
	MaxConns     int    `mapstructure:"max_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for result handoff notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RACEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.base_url", "https://www.equibase.com")
	v.SetDefault("pipeline.run_deadline_minutes", 30)
	v.SetDefault("pipeline.entity_qps", 0.5)
	v.SetDefault("pipeline.min_delay_ms", 500)
	v.SetDefault("pipeline.max_delay_ms", 2500)
	v.SetDefault("pipeline.result_topic", "racepipe.results")
	v.SetDefault("pipeline.evening", false)
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("solver.base_url", "https://2captcha.com")
	v.SetDefault("solver.poll_interval_seconds", 5)
	v.SetDefault("solver.timeout_seconds", 180)
	v.SetDefault("cache.max_age_hours", 24)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "data/raw")
	v.SetDefault("db.runs_table", "runs")
	v.SetDefault("db.results_table", "run_results")
	v.SetDefault("db.max_conns", 5)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.BaseURL == "" {
		return fmt.Errorf("pipeline.base_url must be set")
	}
	if c.Pipeline.RunDeadlineMinutes <= 0 {
		return fmt.Errorf("pipeline.run_deadline_minutes must be > 0")
	}
	if c.Pipeline.EntityQPS <= 0 {
		return fmt.Errorf("pipeline.entity_qps must be > 0")
	}
	if c.Pipeline.MaxDelayMs < c.Pipeline.MinDelayMs {
		return fmt.Errorf("pipeline.max_delay_ms must be >= pipeline.min_delay_ms")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Cache.MaxAgeHours <= 0 {
		return fmt.Errorf("cache.max_age_hours must be > 0")
	}
	switch c.Storage.Backend {
	case "local", "gcs", "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs, or memory")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when backend is gcs")
	}
	return nil
}

// RunDeadline converts the configured deadline into a duration.
func (c Config) RunDeadline() time.Duration {
	return time.Duration(c.Pipeline.RunDeadlineMinutes) * time.Minute
}
