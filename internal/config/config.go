// Package config loads engine settings from an optional YAML file with
// environment overrides. Every field has a usable default so the binary runs
// with no config at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath string `yaml:"db_path"`
	Port   int    `yaml:"port"`

	AutoWinner AutoWinnerConfig `yaml:"auto_winner"`
	Recommend  RecommendConfig  `yaml:"recommend"`
}

// AutoWinnerConfig controls the host-side poller that calls the engine's
// auto-winner evaluation. The engine itself owns no background goroutines.
type AutoWinnerConfig struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
}

// RecommendConfig holds the recommendation generator thresholds.
type RecommendConfig struct {
	// SimilarThresholdPct is the max pairwise improvement (percent) below
	// which sufficiently-sampled variants count as performing similarly.
	SimilarThresholdPct float64 `yaml:"similar_threshold_pct"`
	// MaxTestDurationDays is how long a test may run without a significant
	// result before a redesign warning is emitted.
	MaxTestDurationDays int `yaml:"max_test_duration_days"`
}

func Default() Config {
	return Config{
		DBPath: "./popsplit.db",
		Port:   8080,
		AutoWinner: AutoWinnerConfig{
			Enabled:             true,
			PollIntervalSeconds: 300,
		},
		Recommend: RecommendConfig{
			SimilarThresholdPct: 2.0,
			MaxTestDurationDays: 30,
		},
	}
}

// Load reads the YAML file at path on top of the defaults. A missing file is
// not an error; a malformed one is. Environment variables PS_DB_PATH and
// PS_PORT override both.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if v := os.Getenv("PS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}

	if cfg.AutoWinner.PollIntervalSeconds <= 0 {
		cfg.AutoWinner.PollIntervalSeconds = 300
	}
	if cfg.Recommend.SimilarThresholdPct <= 0 {
		cfg.Recommend.SimilarThresholdPct = 2.0
	}
	if cfg.Recommend.MaxTestDurationDays <= 0 {
		cfg.Recommend.MaxTestDurationDays = 30
	}

	return cfg, nil
}

func (c AutoWinnerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c RecommendConfig) MaxTestDuration() time.Duration {
	return time.Duration(c.MaxTestDurationDays) * 24 * time.Hour
}
