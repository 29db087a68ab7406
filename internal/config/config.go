// Package config defines service configuration and its loading.
//
// Precedence (low -> high): defaults from New, the YAML file named by
// SHIFT_CONFIG, then SHIFT_* environment variables.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/preference"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DBPath is the SQLite database file. ":memory:" keeps everything in
	// process.
	DBPath string `koanf:"db_path"`

	// QueueSize bounds the in-memory trigger queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of decision workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many trigger keys intake remembers.
	DedupeSize int `koanf:"dedupe_size"`

	// CycleTimeoutMS bounds one decision cycle.
	CycleTimeoutMS int `koanf:"cycle_timeout_ms"`

	// Metric is the state metric decisions are made on.
	Metric string `koanf:"metric"`

	RateLimitWindowMinutes int `koanf:"rate_limit_window_minutes"`
	RateLimitMaxCount      int `koanf:"rate_limit_max_count"`

	PreferenceWindowDays int     `koanf:"preference_window_days"`
	AnnoyanceCap         float64 `koanf:"annoyance_cap"`

	SuppressionMinShown           int     `koanf:"suppression_min_shown"`
	SuppressionAnnoyanceThreshold float64 `koanf:"suppression_annoyance_threshold"`

	// EventSignals maps raw interaction event types to shown, engaged,
	// annoyed or neutral.
	EventSignals map[string]string `koanf:"event_signals"`
}

// New creates a Config with defaults.
func New() *Config {
	signals := make(map[string]string)
	for eventType, sig := range preference.DefaultMapping() {
		signals[eventType] = string(sig)
	}
	return &Config{
		LogLevel:                      "info",
		Addr:                          ":9080",
		DBPath:                        "data/shift.db",
		QueueSize:                     10_000,
		WorkerCount:                   runtime.NumCPU(),
		DedupeSize:                    50_000,
		CycleTimeoutMS:                5_000,
		Metric:                        "stress",
		RateLimitWindowMinutes:        30,
		RateLimitMaxCount:             3,
		PreferenceWindowDays:          30,
		AnnoyanceCap:                  0.9,
		SuppressionMinShown:           5,
		SuppressionAnnoyanceThreshold: 0.7,
		EventSignals:                  signals,
	}
}

// Validate rejects inconsistent values.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.Metric == "":
		return fmt.Errorf("%w: metric must not be empty", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.CycleTimeoutMS < 1:
		return fmt.Errorf("%w: cycle_timeout_ms must be positive", ErrInvalidConfig)
	case c.RateLimitWindowMinutes < 1 || c.RateLimitMaxCount < 1:
		return fmt.Errorf("%w: rate limit window and max count must be positive", ErrInvalidConfig)
	case c.PreferenceWindowDays < 1:
		return fmt.Errorf("%w: preference_window_days must be positive", ErrInvalidConfig)
	case c.AnnoyanceCap <= 0 || c.AnnoyanceCap > 1:
		return fmt.Errorf("%w: annoyance_cap must be in (0,1]", ErrInvalidConfig)
	case c.SuppressionMinShown < 1:
		return fmt.Errorf("%w: suppression_min_shown must be positive", ErrInvalidConfig)
	case c.SuppressionAnnoyanceThreshold <= 0 || c.SuppressionAnnoyanceThreshold > 1:
		return fmt.Errorf("%w: suppression_annoyance_threshold must be in (0,1]", ErrInvalidConfig)
	}
	if _, err := c.SignalMapping(); err != nil {
		return fmt.Errorf("%w: event_signals: %w", ErrInvalidConfig, err)
	}
	return nil
}

// SignalMapping parses EventSignals.
func (c *Config) SignalMapping() (preference.Mapping, error) {
	return preference.ParseMapping(c.EventSignals)
}

// CycleTimeout returns CycleTimeoutMS as a duration.
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.CycleTimeoutMS) * time.Millisecond
}

// RateLimitWindow returns the rate limit window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMinutes) * time.Minute
}

// PreferenceWindow returns the preference window as a duration.
func (c *Config) PreferenceWindow() time.Duration {
	return time.Duration(c.PreferenceWindowDays) * 24 * time.Hour
}
