// Package config loads fcast settings from a YAML file with environment
// overrides. Every field has a default, so a missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/funnelcast/funnelcast/internal/dataset"
	"github.com/funnelcast/funnelcast/internal/forecast"
	"github.com/funnelcast/funnelcast/internal/trainer"
)

type Config struct {
	Storage  StorageConfig   `yaml:"storage"`
	Server   ServerConfig    `yaml:"server"`
	Logging  LoggingConfig   `yaml:"logging"`
	Data     DataConfig      `yaml:"data"`
	Training trainer.Config  `yaml:"training"`
	Forecast forecast.Config `yaml:"forecast"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	// KeepBundles is how many bundles prune retains by default.
	KeepBundles int `yaml:"keep_bundles"`
}

type ServerConfig struct {
	Port         int `yaml:"port"`
	ReadTimeout  int `yaml:"read_timeout_seconds"`
	WriteTimeout int `yaml:"write_timeout_seconds"`
	// MaxUploadMB bounds the CSV request body.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type DataConfig struct {
	MinYears   float64                `yaml:"min_years"`
	Incomplete dataset.IncompleteRule `yaml:"incomplete_months"`
}

func Default() *Config {
	return &Config{
		Storage: StorageConfig{Path: "./fcast.db", KeepBundles: 5},
		Server:  ServerConfig{Port: 8000, ReadTimeout: 30, WriteTimeout: 120, MaxUploadMB: 32},
		Logging: LoggingConfig{Level: "info"},
		Data: DataConfig{
			MinYears:   1,
			Incomplete: dataset.DefaultIncompleteRule(),
		},
		Training: trainer.DefaultConfig(),
		Forecast: forecast.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies FCAST_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Storage.Path = getEnvOrDefault("FCAST_DB_PATH", c.Storage.Path)
	c.Logging.Level = getEnvOrDefault("FCAST_LOG_LEVEL", c.Logging.Level)
	if v := os.Getenv("FCAST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FCAST_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Storage.Path != "", "storage.path is required")
	check(c.Storage.KeepBundles >= 1, "storage.keep_bundles must be at least 1")
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.MaxUploadMB > 0, "server.max_upload_mb must be positive")

	check(c.Data.MinYears > 0, "data.min_years must be positive")
	inc := c.Data.Incomplete
	check(inc.MaxScan >= 0, "data.incomplete_months.max_scan must not be negative")
	check(inc.Window >= 1, "data.incomplete_months.window must be at least 1")
	check(ratio(inc.LeadRatio) && ratio(inc.RevenueRatio), "data.incomplete_months ratios must be in [0,1]")

	s := c.Training.Seasonal
	check(s.FourierOrder >= 0, "training.seasonal.fourier_order must not be negative")
	check(s.Interval > 0 && s.Interval < 1, "training.seasonal.interval_width must be in (0,1)")
	check(s.Ridge >= 0, "training.seasonal.ridge must not be negative")
	t := c.Training.Tree
	check(t.MaxDepth >= 1 && t.Rounds >= 1, "training.tree.max_depth and rounds must be at least 1")
	check(t.LearningRate > 0 && t.LearningRate <= 1, "training.tree.learning_rate must be in (0,1]")
	check(t.TestFraction > 0 && t.TestFraction < 1, "training.tree.test_fraction must be in (0,1)")
	check(c.Training.ProfileMaxLag >= 1, "training.profile_max_lag must be at least 1")

	f := c.Forecast
	check(f.Horizon >= 1, "forecast.horizon must be at least 1")
	w := f.Weights
	check(w.Seasonal >= 0 && w.Tree >= 0 && w.Rule >= 0, "forecast.weights must not be negative")
	check(w.Seasonal+w.Tree+w.Rule > 0, "forecast.weights must not all be zero")
	check(ratio(f.TreeBound) && ratio(f.RuleBound), "forecast bounds must be in [0,1]")
	check(f.AnchorWindow >= 1, "forecast.anchor_window must be at least 1")
	check(ratio(f.AnchorLowRatio), "forecast.anchor_low_ratio must be in [0,1]")
	check(f.JumpCap >= 1, "forecast.jump_cap must be at least 1")
	check(f.RecentWindow >= 1, "forecast.recent_window must be at least 1")
	check(f.Profile == "empirical" || f.Profile == "uniform", "forecast.profile must be empirical or uniform, got %q", f.Profile)
	for _, s := range dataset.FunnelStages {
		r, ok := f.FallbackRates[s]
		check(ok && ratio(r), "forecast.fallback_rates.%s must be in [0,1]", s)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func ratio(v float64) bool { return v >= 0 && v <= 1 }

// DatasetOptions returns loader options for the given reference date. A
// zero ref keeps every completed trip.
func (c *Config) DatasetOptions(ref time.Time) dataset.Options {
	return dataset.Options{
		MinYears:      c.Data.MinYears,
		ReferenceDate: ref,
		Incomplete:    c.Data.Incomplete,
	}
}
