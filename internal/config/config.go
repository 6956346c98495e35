// Package config loads engine configuration from a YAML file with sane
// defaults, so the binary runs with no config at all.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
	Debug  bool   `yaml:"debug"`

	// Timezone takes an IANA name; UTCOffset (whole hours) is the fallback
	// and preserves the engine's historical fixed-offset behavior.
	Timezone  string `yaml:"timezone"`
	UTCOffset int    `yaml:"utc_offset"`

	CostPerClick  int64  `yaml:"cost_per_click"`
	ParallelTasks int    `yaml:"parallel_tasks"`
	BalanceURL    string `yaml:"balance_url"`

	HTTPTier    HTTPTier    `yaml:"http_tier"`
	BrowserTier BrowserTier `yaml:"browser_tier"`

	Cron Cron `yaml:"cron"`
}

type HTTPTier struct {
	Workers        int     `yaml:"workers"`
	QueueDepth     int     `yaml:"queue_depth"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

func (t HTTPTier) Timeout() time.Duration { return time.Duration(t.TimeoutSeconds) * time.Second }

type BrowserTier struct {
	Workers        int    `yaml:"workers"`
	QueueDepth     int    `yaml:"queue_depth"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ProxyURL       string `yaml:"proxy_url"`
}

func (t BrowserTier) Timeout() time.Duration { return time.Duration(t.TimeoutSeconds) * time.Second }

type Cron struct {
	Enabled   bool   `yaml:"enabled"`
	DailyPlan string `yaml:"daily_plan"`
	HourlyRun string `yaml:"hourly_run"`
	TokenSync string `yaml:"token_sync"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:          ":8080",
		DBPath:        "clickflow.db",
		UTCOffset:     -8,
		CostPerClick:  1,
		ParallelTasks: 4,
		HTTPTier: HTTPTier{
			Workers:        8,
			QueueDepth:     256,
			RatePerSec:     5,
			TimeoutSeconds: 30,
		},
		BrowserTier: BrowserTier{
			Workers:        2,
			QueueDepth:     32,
			TimeoutSeconds: 60,
		},
		Cron: Cron{
			Enabled:   true,
			DailyPlan: "5 0 * * *",
			HourlyRun: "0 * * * *",
			TokenSync: "*/30 * * * *",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.UTCOffset < -12 || c.UTCOffset > 14 {
		return fmt.Errorf("utc_offset %d out of range [-12,14]", c.UTCOffset)
	}
	if c.CostPerClick <= 0 {
		return fmt.Errorf("cost_per_click must be positive")
	}
	if c.HTTPTier.Workers <= 0 || c.BrowserTier.Workers <= 0 {
		return fmt.Errorf("tier worker counts must be positive")
	}
	return nil
}
