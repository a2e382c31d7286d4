// Package config loads engine settings from defaults, an optional YAML file
// and ORDERFLOW_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/orderflow-mcp/internal/logging"
)

// PathEnv names the variable holding the YAML config file path
const PathEnv = "ORDERFLOW_CONFIG"

// DefaultDSN is the SQLite database used when none is configured
const DefaultDSN = "orderflow.db"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the full engine configuration
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	ETA           ETAConfig          `yaml:"eta"`
	Sweep         SweepConfig        `yaml:"sweep"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Logging       logging.Config     `yaml:"logging"`
}

// DatabaseConfig selects the SQL backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // file path for sqlite, URL for postgres
}

// ETAConfig holds the delivery estimate knobs
type ETAConfig struct {
	BaseTimeMinutes     float64 `yaml:"base_time_minutes"`
	NoCourierMultiplier float64 `yaml:"no_courier_multiplier"`
	SampleLimit         int     `yaml:"sample_limit"`
	CacheSize           int     `yaml:"cache_size"`
}

// SweepConfig controls the periodic courier sweep
type SweepConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// NotificationConfig controls scheduling and delivery of notifications
type NotificationConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	ReviewDelay  time.Duration `yaml:"review_delay"`
	MaxRetries   int           `yaml:"max_retries"`
	RedisURL     string        `yaml:"redis_url"`
	RedisKey     string        `yaml:"redis_key"`
	KafkaBrokers []string      `yaml:"kafka_brokers"`
	KafkaTopic   string        `yaml:"kafka_topic"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: DefaultDSN},
		ETA: ETAConfig{
			BaseTimeMinutes:     10,
			NoCourierMultiplier: 3,
			SampleLimit:         100,
			CacheSize:           1000,
		},
		Sweep: SweepConfig{Enabled: true, Interval: time.Minute},
		Notifications: NotificationConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			ReviewDelay:  30 * time.Minute,
			MaxRetries:   3,
			RedisKey:     "orderflow:notifications:pending",
			KafkaTopic:   "orderflow.notifications",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (or
// $ORDERFLOW_CONFIG when path is empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile merges a YAML file over the current values
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %q: %w", ext, ErrInvalid)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cleanPath, err)
	}
	return nil
}

// LoadFromEnv applies ORDERFLOW_* overrides. Malformed numbers and durations
// are errors rather than silently ignored.
func (c *Config) LoadFromEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *float64) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = f
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("ORDERFLOW_DB_DRIVER", &c.Database.Driver)
	str("ORDERFLOW_DB_DSN", &c.Database.DSN)

	num("ORDERFLOW_ETA_BASE_TIME_MINUTES", &c.ETA.BaseTimeMinutes)
	num("ORDERFLOW_ETA_NO_COURIER_MULTIPLIER", &c.ETA.NoCourierMultiplier)
	integer("ORDERFLOW_ETA_SAMPLE_LIMIT", &c.ETA.SampleLimit)
	integer("ORDERFLOW_ETA_CACHE_SIZE", &c.ETA.CacheSize)

	if v, ok := os.LookupEnv("ORDERFLOW_SWEEP_ENABLED"); ok && v != "" {
		c.Sweep.Enabled = parseBool(v)
	}
	duration("ORDERFLOW_SWEEP_INTERVAL", &c.Sweep.Interval)

	duration("ORDERFLOW_NOTIFY_POLL_INTERVAL", &c.Notifications.PollInterval)
	integer("ORDERFLOW_NOTIFY_BATCH_SIZE", &c.Notifications.BatchSize)
	duration("ORDERFLOW_REVIEW_DELAY", &c.Notifications.ReviewDelay)
	integer("ORDERFLOW_NOTIFY_MAX_RETRIES", &c.Notifications.MaxRetries)
	str("REDIS_URL", &c.Notifications.RedisURL)
	str("ORDERFLOW_REDIS_URL", &c.Notifications.RedisURL)
	str("ORDERFLOW_REDIS_KEY", &c.Notifications.RedisKey)
	if v, ok := os.LookupEnv("ORDERFLOW_KAFKA_BROKERS"); ok && v != "" {
		c.Notifications.KafkaBrokers = parseStringList(v)
	}
	str("ORDERFLOW_KAFKA_TOPIC", &c.Notifications.KafkaTopic)

	str("ORDERFLOW_METRICS_ADDR", &c.Metrics.Addr)

	str("ORDERFLOW_LOG_LEVEL", &c.Logging.Level)
	str("ORDERFLOW_LOG_FORMAT", &c.Logging.Format)
	str("ORDERFLOW_LOG_OUTPUT", &c.Logging.Output)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(append(errs, ErrInvalid)...))
	}
	return nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Database.Driver != "sqlite" && c.Database.Driver != "postgres":
		return fmt.Errorf("database driver must be sqlite or postgres, got %q: %w", c.Database.Driver, ErrInvalid)
	case c.Database.DSN == "":
		return fmt.Errorf("database dsn is required: %w", ErrInvalid)
	case c.ETA.BaseTimeMinutes <= 0:
		return fmt.Errorf("eta base time must be positive: %w", ErrInvalid)
	case c.ETA.NoCourierMultiplier <= 0:
		return fmt.Errorf("eta no-courier multiplier must be positive: %w", ErrInvalid)
	case c.ETA.SampleLimit <= 0 || c.ETA.CacheSize <= 0:
		return fmt.Errorf("eta sample limit and cache size must be positive: %w", ErrInvalid)
	case c.Sweep.Enabled && c.Sweep.Interval <= 0:
		return fmt.Errorf("sweep interval must be positive: %w", ErrInvalid)
	case c.Notifications.PollInterval <= 0 || c.Notifications.BatchSize <= 0:
		return fmt.Errorf("notification poll interval and batch size must be positive: %w", ErrInvalid)
	case c.Notifications.ReviewDelay <= 0:
		return fmt.Errorf("review delay must be positive: %w", ErrInvalid)
	case c.Notifications.MaxRetries <= 0:
		return fmt.Errorf("notification retries must be positive: %w", ErrInvalid)
	case len(c.Notifications.KafkaBrokers) > 0 && c.Notifications.KafkaTopic == "":
		return fmt.Errorf("kafka topic is required when brokers are set: %w", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalid)
	}
	return nil
}

// parseStringList splits a comma-separated string, dropping empty elements
func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseBool accepts true, 1, yes and on (case-insensitive)
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
