// Package config handles hostwatch configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hostwatch configuration.
type Config struct {
	Intervals  IntervalsConfig  `yaml:"intervals"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Collect    CollectConfig    `yaml:"collect"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Storage    StorageConfig    `yaml:"storage"`
	Status     StatusConfig     `yaml:"status"`
}

// IntervalsConfig controls the engine loop periods.
type IntervalsConfig struct {
	Report        time.Duration `yaml:"report"`
	Check         time.Duration `yaml:"check"`
	LoginWatch    time.Duration `yaml:"login_watch"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ThresholdsConfig sets the resource alert limits. Zero disables a check.
// FailedLogins is accepted but not yet acted on; the login watch currently
// only tracks session-count increases.
type ThresholdsConfig struct {
	CPUPercent   float64 `yaml:"cpu_percent"`
	RAMPercent   float64 `yaml:"ram_percent"`
	DiskPercent  float64 `yaml:"disk_percent"`
	FailedLogins int     `yaml:"failed_logins"`
}

// AlertsConfig toggles alert categories and tunes the evaluators.
// The toggles are pointers so that an omitted field defaults to enabled
// while an explicit `false` stays off; applyDefaults fills them, so they
// are never nil after LoadFile or Default.
type AlertsConfig struct {
	OnLogin        *bool    `yaml:"on_login"`
	OnSuspicious   *bool    `yaml:"on_suspicious"`
	AllowProcesses []string `yaml:"allow_processes"`
}

// CollectConfig controls the host sampling.
type CollectConfig struct {
	Mounts []string `yaml:"mounts"`
}

// DeliveryConfig tunes the notification router.
type DeliveryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	ChunkDelay   time.Duration `yaml:"chunk_delay"`
	WatchPoll    time.Duration `yaml:"watch_poll"`
}

// StorageConfig locates the SQLite databases.
type StorageConfig struct {
	ChannelsDB      string `yaml:"channels_db"`
	ObservabilityDB string `yaml:"observability_db"`
	RetentionDays   int    `yaml:"retention_days"`
}

// StatusConfig controls the local status HTTP endpoint.
// An empty Addr disables it.
type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Intervals.Report <= 0 {
		c.Intervals.Report = time.Hour
	}
	if c.Intervals.Check <= 0 {
		c.Intervals.Check = 5 * time.Minute
	}
	if c.Intervals.LoginWatch <= 0 {
		c.Intervals.LoginWatch = 10 * time.Second
	}
	if c.Intervals.ShutdownGrace <= 0 {
		c.Intervals.ShutdownGrace = 10 * time.Second
	}
	if c.Alerts.OnLogin == nil {
		c.Alerts.OnLogin = boolPtr(true)
	}
	if c.Alerts.OnSuspicious == nil {
		c.Alerts.OnSuspicious = boolPtr(true)
	}
	if c.Thresholds.CPUPercent == 0 && c.Thresholds.RAMPercent == 0 && c.Thresholds.DiskPercent == 0 {
		c.Thresholds.CPUPercent = 90
		c.Thresholds.RAMPercent = 90
		c.Thresholds.DiskPercent = 90
	}
	if len(c.Collect.Mounts) == 0 {
		c.Collect.Mounts = []string{"/"}
	}
	if c.Delivery.MaxAttempts <= 0 {
		c.Delivery.MaxAttempts = 3
	}
	if c.Delivery.RetryBackoff <= 0 {
		c.Delivery.RetryBackoff = 2 * time.Second
	}
	if c.Delivery.ChunkDelay <= 0 {
		c.Delivery.ChunkDelay = 500 * time.Millisecond
	}
	if c.Delivery.WatchPoll <= 0 {
		c.Delivery.WatchPoll = time.Second
	}
	if c.Storage.ChannelsDB == "" {
		c.Storage.ChannelsDB = "/var/lib/hostwatch/channels.db"
	}
	if c.Storage.ObservabilityDB == "" {
		c.Storage.ObservabilityDB = "/var/lib/hostwatch/observability.db"
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = 30
	}
}

func boolPtr(b bool) *bool { return &b }
