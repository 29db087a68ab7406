// Package ratelimit gates how many interventions a user may receive within
// a trailing window.
//
// The spent budget is a count over the durable instance log, not an
// in-memory counter, so independent or restarted workers agree on it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Default limits.
const (
	DefaultWindow   = 30 * time.Minute
	DefaultMaxCount = 3
)

// InstanceCounter counts instances created for a user at or after since,
// regardless of surface or status.
type InstanceCounter interface {
	CountInstancesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Option applies a configuration option to the Limiter.
type Option func(*Limiter)

// WithWindow sets the trailing window.
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithMaxCount sets the maximum number of instances per window.
func WithMaxCount(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxCount = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter is a hard, global per-user gate.
type Limiter struct {
	counter  InstanceCounter
	window   time.Duration
	maxCount int
	now      func() time.Time
}

// NewLimiter creates a limiter over counter.
func NewLimiter(counter InstanceCounter, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		window:   DefaultWindow,
		maxCount: DefaultMaxCount,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsRateLimited reports whether the user already has maxCount or more
// instances inside the window.
func (l *Limiter) IsRateLimited(ctx context.Context, userID string) (bool, error) {
	n, err := l.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return n >= l.maxCount, nil
}

// Count returns how many instances count against the user's budget.
func (l *Limiter) Count(ctx context.Context, userID string) (int, error) {
	n, err := l.counter.CountInstancesSince(ctx, userID, l.now().Add(-l.window))
	if err != nil {
		return 0, fmt.Errorf("count recent instances: %w", err)
	}
	return n, nil
}

// Budget returns the user budget as of now, for writers that re-check the
// count atomically with the insert.
func (l *Limiter) Budget() model.Budget {
	return model.Budget{Since: l.now().Add(-l.window), Max: l.maxCount}
}

// MaxCount returns the configured budget.
func (l *Limiter) MaxCount() int { return l.maxCount }
