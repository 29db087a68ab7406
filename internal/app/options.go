package service

import (
	"time"

	"github.com/meigsy/shift-sub001/internal/adapters/repository"
	"github.com/meigsy/shift-sub001/internal/config"
	"github.com/meigsy/shift-sub001/internal/domain/preference"
	"github.com/meigsy/shift-sub001/internal/domain/selector"
	"github.com/meigsy/shift-sub001/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore uses an already opened store. The service does not close it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
			s.ownsStore = false
		}
	}
}

// WithDBPath sets the SQLite database opened on Start when no store is set.
func WithDBPath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.dbPath = path
		}
	}
}

// WithWorkerCount sets the number of decision workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the trigger queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many trigger keys intake remembers.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMetric sets the state metric decisions are made on.
func WithMetric(metric string) Option {
	return func(s *Service) {
		if metric != "" {
			s.metric = metric
		}
	}
}

// WithCycleTimeout bounds one decision cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.cycleTimeout = d
		}
	}
}

// WithRateLimit sets the per-user budget.
func WithRateLimit(window time.Duration, maxCount int) Option {
	return func(s *Service) {
		if window > 0 && maxCount > 0 {
			s.rateWindow = window
			s.rateMax = maxCount
		}
	}
}

// WithPreferenceWindow sets the trailing aggregation window.
func WithPreferenceWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.prefWindow = window
		}
	}
}

// WithAnnoyanceCap caps the derived annoyance rate.
func WithAnnoyanceCap(capRate float64) Option {
	return func(s *Service) {
		if capRate > 0 && capRate <= 1 {
			s.annoyanceCap = capRate
		}
	}
}

// WithSuppressionPolicy overrides the suppression thresholds.
func WithSuppressionPolicy(p selector.SuppressionPolicy) Option {
	return func(s *Service) {
		if p.MinShown > 0 && p.AnnoyanceThreshold > 0 {
			s.suppression = p
		}
	}
}

// WithSignalMapping sets the event type to signal mapping.
func WithSignalMapping(m preference.Mapping) Option {
	return func(s *Service) {
		if len(m) > 0 {
			s.mapping = m
		}
	}
}

// WithClock overrides the time source of every time-dependent component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// OptionsFromConfig translates a validated Config into service options.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	mapping, err := cfg.SignalMapping()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithDBPath(cfg.DBPath),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithMetric(cfg.Metric),
		WithCycleTimeout(cfg.CycleTimeout()),
		WithRateLimit(cfg.RateLimitWindow(), cfg.RateLimitMaxCount),
		WithPreferenceWindow(cfg.PreferenceWindow()),
		WithAnnoyanceCap(cfg.AnnoyanceCap),
		WithSuppressionPolicy(selector.SuppressionPolicy{
			MinShown:           cfg.SuppressionMinShown,
			AnnoyanceThreshold: cfg.SuppressionAnnoyanceThreshold,
		}),
		WithSignalMapping(mapping),
	}, nil
}
