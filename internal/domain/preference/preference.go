// Package preference derives per-surface engagement and annoyance
// statistics from the append-only interaction log.
//
// Nothing here is stored: every call recomputes the aggregate over the
// trailing window, so replaying the log always yields the same result.
package preference

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Default aggregation constants.
const (
	DefaultWindow       = 30 * 24 * time.Hour
	DefaultAnnoyanceCap = 0.9
)

// EventReader returns interaction events of a user, attributed to the
// surface of the referenced instance, with timestamps at or after since.
type EventReader interface {
	SurfaceEvents(ctx context.Context, userID string, since time.Time) ([]model.SurfaceEvent, error)
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithWindow sets the trailing window.
func WithWindow(window time.Duration) Option {
	return func(a *Aggregator) {
		if window > 0 {
			a.window = window
		}
	}
}

// WithAnnoyanceCap caps annoyance_rate so a small unlucky sample cannot
// lock a surface out entirely.
func WithAnnoyanceCap(capRate float64) Option {
	return func(a *Aggregator) {
		if capRate > 0 && capRate <= 1 {
			a.annoyanceCap = capRate
		}
	}
}

// WithMapping sets the raw event type to signal mapping.
func WithMapping(m Mapping) Option {
	return func(a *Aggregator) {
		if len(m) > 0 {
			a.mapping = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator computes SurfacePreference values on demand.
type Aggregator struct {
	events       EventReader
	window       time.Duration
	annoyanceCap float64
	mapping      Mapping
	now          func() time.Time
}

// NewAggregator creates an aggregator reading from events.
func NewAggregator(events EventReader, opts ...Option) *Aggregator {
	a := &Aggregator{
		events:       events,
		window:       DefaultWindow,
		annoyanceCap: DefaultAnnoyanceCap,
		mapping:      DefaultMapping(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetPreferences returns the preferences of every surface the user has
// history on. Surfaces without history are absent; use Lookup to get the
// neutral default for them.
func (a *Aggregator) GetPreferences(ctx context.Context, userID string) (map[string]model.SurfacePreference, error) {
	since := a.now().Add(-a.window)
	events, err := a.events.SurfaceEvents(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("read interaction events: %w", err)
	}
	return Aggregate(userID, events, since, a.mapping, a.annoyanceCap), nil
}

// instanceOutcome folds all events of one instance.
type instanceOutcome struct {
	surface string
	engaged bool
	annoyed bool
}

// Aggregate computes per-surface preferences from events. Counting is per
// instance: an instance is shown once if it has any mapped event, engaged if
// any event is an engagement, and annoyed only if it was manually dismissed
// without any engagement.
func Aggregate(userID string, events []model.SurfaceEvent, since time.Time, mapping Mapping, annoyanceCap float64) map[string]model.SurfacePreference {
	outcomes := make(map[string]*instanceOutcome)
	for _, e := range events {
		if e.InstanceID == "" || e.Surface == "" || e.Timestamp.Before(since) {
			continue
		}
		sig, ok := mapping.Signal(e.EventType)
		if !ok {
			continue
		}
		o, exists := outcomes[e.InstanceID]
		if !exists {
			o = &instanceOutcome{surface: e.Surface}
			outcomes[e.InstanceID] = o
		}
		switch sig {
		case SignalEngaged:
			o.engaged = true
		case SignalAnnoyed:
			o.annoyed = true
		case SignalShown, SignalNeutral:
		}
	}

	prefs := make(map[string]model.SurfacePreference)
	for _, o := range outcomes {
		p, ok := prefs[o.surface]
		if !ok {
			p = Neutral(userID, o.surface)
		}
		p.ShownCount++
		if o.engaged {
			p.EngagementCount++
		} else if o.annoyed {
			p.AnnoyanceCount++
		}
		prefs[o.surface] = p
	}

	for surface, p := range prefs {
		prefs[surface] = finalize(p, annoyanceCap)
	}
	return prefs
}

func finalize(p model.SurfacePreference, annoyanceCap float64) model.SurfacePreference {
	if p.ShownCount == 0 {
		return p
	}
	shown := float64(p.ShownCount)
	p.EngagementRate = float64(p.EngagementCount) / shown
	p.AnnoyanceRate = math.Min(float64(p.AnnoyanceCount)/shown, annoyanceCap)
	p.PreferenceScore = clamp(p.EngagementRate-p.AnnoyanceRate, -1, 1)
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Neutral is the preference of a surface with no history.
func Neutral(userID, surface string) model.SurfacePreference {
	return model.SurfacePreference{UserID: userID, Surface: surface}
}

// Lookup returns the preference for surface, or the neutral default.
func Lookup(prefs map[string]model.SurfacePreference, userID, surface string) model.SurfacePreference {
	if p, ok := prefs[surface]; ok {
		return p
	}
	return Neutral(userID, surface)
}

// Sorted returns preferences ordered by surface name.
func Sorted(prefs map[string]model.SurfacePreference) []model.SurfacePreference {
	out := make([]model.SurfacePreference, 0, len(prefs))
	for _, p := range prefs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Surface < out[j].Surface })
	return out
}
