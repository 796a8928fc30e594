package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// TargetConfig describes one monitored target. Zero-valued fields fall back
// to the health section defaults at registration time.
type TargetConfig struct {
	ID               string   `yaml:"id"`
	Protocol         string   `yaml:"protocol"`
	Address          string   `yaml:"address"`
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
	RetryCount       uint     `yaml:"retry_count"`
	FailureThreshold uint     `yaml:"failure_threshold"`
}

// HealthConfig holds check scheduling defaults and dependency-check toggles.
type HealthConfig struct {
	RetryCount           uint     `yaml:"retry_count"`
	RetryBackoff         Duration `yaml:"retry_backoff"`
	Timeout              Duration `yaml:"timeout"`
	Interval             Duration `yaml:"interval"`
	EnableDatabaseCheck  bool     `yaml:"enable_database_check"`
	EnableCacheCheck     bool     `yaml:"enable_cache_check"`
	EnableMessagingCheck bool     `yaml:"enable_messaging_check"`
}

// AlertsConfig holds alert evaluation and delivery settings.
type AlertsConfig struct {
	FailureThreshold uint     `yaml:"failure_threshold"`
	Suppression      Duration `yaml:"suppression"`
	SlackWebhook     string   `yaml:"slack_webhook"`
	WebhookURL       string   `yaml:"webhook_url"`
}

// MetricsConfig holds aggregation window settings.
type MetricsConfig struct {
	Window Duration `yaml:"window"`
	Retain int      `yaml:"retain"`
}

// DependencyConfig is the address of a built-in dependency target
// (database, cache, messaging broker).
type DependencyConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds log level and rotation settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Config is the root application configuration. Loaded once at startup and
// passed explicitly to each component's constructor.
type Config struct {
	Health    HealthConfig     `yaml:"health"`
	Alerts    AlertsConfig     `yaml:"alerts"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Targets   []TargetConfig   `yaml:"targets"`
	Database  DependencyConfig `yaml:"database"`
	Cache     DependencyConfig `yaml:"cache"`
	Messaging DependencyConfig `yaml:"messaging"`
	Logging   LoggingConfig    `yaml:"logging"`
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
}

// Load reads, parses, defaults, and validates the config file at path.
// Environment variables with the HEALTH_ prefix override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Health.RetryCount == 0 {
		c.Health.RetryCount = 3
	}
	if c.Health.RetryBackoff.Duration == 0 {
		c.Health.RetryBackoff.Duration = 500 * time.Millisecond
	}
	if c.Health.Timeout.Duration == 0 {
		c.Health.Timeout.Duration = 5 * time.Second
	}
	if c.Health.Interval.Duration == 0 {
		c.Health.Interval.Duration = 30 * time.Second
	}
	if c.Alerts.FailureThreshold == 0 {
		c.Alerts.FailureThreshold = 3
	}
	if c.Alerts.Suppression.Duration == 0 {
		c.Alerts.Suppression.Duration = 5 * time.Minute
	}
	if c.Metrics.Window.Duration == 0 {
		c.Metrics.Window.Duration = time.Minute
	}
	if c.Metrics.Retain == 0 {
		c.Metrics.Retain = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "healthd.db"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Cache.Port == 0 {
		c.Cache.Port = 6379
	}
	if c.Messaging.Port == 0 {
		c.Messaging.Port = 5672
	}
}

// applyEnv overrides select settings from HEALTH_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("HEALTH_RETRY_COUNT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("HEALTH_RETRY_COUNT %q: %w", v, err)
		}
		c.Health.RetryCount = uint(n)
	}
	if v := os.Getenv("HEALTH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HEALTH_TIMEOUT %q: %w", v, err)
		}
		c.Health.Timeout.Duration = d
	}
	if v := os.Getenv("HEALTH_ALERT_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("HEALTH_ALERT_FAILURE_THRESHOLD %q: %w", v, err)
		}
		c.Alerts.FailureThreshold = uint(n)
	}
	if v := os.Getenv("HEALTH_ALERT_SLACK_WEBHOOK"); v != "" {
		c.Alerts.SlackWebhook = v
	}
	if v := os.Getenv("HEALTH_DATABASE_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("HEALTH_CACHE_HOST"); v != "" {
		c.Cache.Host = v
	}
	if v := os.Getenv("HEALTH_MESSAGING_HOST"); v != "" {
		c.Messaging.Host = v
	}
	if v := os.Getenv("HEALTH_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("HEALTH_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("HEALTH_LOGGING_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Health.RetryCount > 10 {
		return fmt.Errorf("health.retry_count %d is too high (max 10)", c.Health.RetryCount)
	}
	if c.Alerts.FailureThreshold < 1 {
		return fmt.Errorf("alerts.failure_threshold must be at least 1")
	}
	if c.Metrics.Retain < 1 {
		return fmt.Errorf("metrics.retain must be at least 1")
	}
	if c.Health.EnableDatabaseCheck && c.Database.Host == "" {
		return fmt.Errorf("health.enable_database_check is set but database.host is empty")
	}
	if c.Health.EnableCacheCheck && c.Cache.Host == "" {
		return fmt.Errorf("health.enable_cache_check is set but cache.host is empty")
	}
	if c.Health.EnableMessagingCheck && c.Messaging.Host == "" {
		return fmt.Errorf("health.enable_messaging_check is set but messaging.host is empty")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.ID == "" {
			return fmt.Errorf("targets[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate target id %q", t.ID)
		}
		seen[t.ID] = true
		if t.Address == "" {
			return fmt.Errorf("target %q: address is required", t.ID)
		}
	}
	return nil
}
