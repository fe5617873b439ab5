// Package config loads and validates bot configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Render  RenderConfig  `mapstructure:"render"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// QueueConfig governs worker and claim behavior.
type QueueConfig struct {
	Workers          int  `mapstructure:"workers"`
	LeaseSeconds     int  `mapstructure:"lease_seconds"`
	PollIntervalSecs int  `mapstructure:"poll_interval_seconds"`
	DrainAndExit     bool `mapstructure:"drain_and_exit"`
}

// FetchConfig configures the HTTP fetcher.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	// PerHostRPS spaces out requests against any single host. Zero
	// disables the cap.
	PerHostRPS float64 `mapstructure:"per_host_rps"`
	Burst      int     `mapstructure:"burst"`
}

// RenderConfig configures the headless PDF renderer.
type RenderConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects where payloads land.
type StorageConfig struct {
	// Backend is one of database, filesystem, bucket.
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for commit notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAGEVAULT")
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
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.lease_seconds", 300)
	v.SetDefault("queue.poll_interval_seconds", 5)
	v.SetDefault("queue.drain_and_exit", false)
	v.SetDefault("fetch.user_agent", "pagevault-bot/0.1")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.per_host_rps", 1.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("render.enabled", false)
	v.SetDefault("render.max_parallel", 1)
	v.SetDefault("render.nav_timeout_seconds", 45)
	v.SetDefault("storage.backend", "database")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.LeaseSeconds <= 0 {
		return fmt.Errorf("queue.lease_seconds must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "database":
	case "filesystem":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the filesystem backend")
		}
	case "bucket":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the bucket backend")
		}
	default:
		return fmt.Errorf("storage.backend must be database, filesystem, or bucket")
	}
	if c.Render.Enabled && c.Render.MaxParallel <= 0 {
		return fmt.Errorf("render.max_parallel must be > 0 when rendering is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// Lease returns the configured claim lease as a duration.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Queue.LeaseSeconds) * time.Second
}

// PollInterval returns the idle poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalSecs) * time.Second
}

// FetchTimeout returns the fetch timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout returns the render navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Render.NavTimeoutSec) * time.Second
}

// ConnLifetime returns the pool connection lifetime as a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMin) * time.Minute
}
