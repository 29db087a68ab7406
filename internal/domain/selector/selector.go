// Package selector decides whether a fresh state snapshot produces an
// intervention, which one, and on which surface.
//
// A decision cycle is read-then-decide-then-write: every input is read fresh
// from the stores and the only write is the final idempotent instance insert.
// Any failure, including the cycle timeout, fails closed with no instance.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/internal/domain/preference"
	"github.com/meigsy/shift-sub001/pkg/logger"
	"github.com/meigsy/shift-sub001/pkg/metrics"
)

// Default engine configuration.
const (
	DefaultMetric  = "stress"
	DefaultTimeout = 5 * time.Second
)

// instanceNamespace seeds deterministic instance ids.
var instanceNamespace = uuid.MustParse("6f1c1f5e-9a53-4d0e-bb3e-2d8f0c7a4e11")

// Outcome is the terminal state of a decision cycle.
type Outcome string

// Decision outcomes.
const (
	OutcomeCreated           Outcome = "created"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeNoSnapshot        Outcome = "no_snapshot"
	OutcomeNoCandidates      Outcome = "no_candidates"
	OutcomeSuppressed        Outcome = "suppressed"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeMalformedSnapshot Outcome = "malformed_snapshot"
	OutcomeFailed            Outcome = "failed"
)

// SnapshotReader loads the snapshot a trigger points at.
// A missing snapshot must be reported as model.ErrNotFound.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, userID string, ts time.Time) (model.StateSnapshot, error)
}

// CandidateSource resolves enabled catalog entries for a bucket.
type CandidateSource interface {
	GetCandidates(ctx context.Context, metric string, level model.Level) ([]model.CatalogEntry, error)
}

// PreferenceSource returns per-surface preferences of a user.
type PreferenceSource interface {
	GetPreferences(ctx context.Context, userID string) (map[string]model.SurfacePreference, error)
}

// RateLimiter is the global per-user gate. Budget is enforced again by the
// instance write.
type RateLimiter interface {
	IsRateLimited(ctx context.Context, userID string) (bool, error)
	Budget() model.Budget
}

// InstanceWriter persists decisions. CreateInstanceWithinBudget reports a
// duplicate when an instance with the same (user_id, trace_id) exists and
// refuses the write once the budget is spent.
type InstanceWriter interface {
	InstanceByTrace(ctx context.Context, userID, traceID string) (model.InterventionInstance, error)
	CreateInstanceWithinBudget(ctx context.Context, inst model.InterventionInstance, budget model.Budget) (model.WriteResult, error)
}

// Decision describes what a cycle decided and why.
type Decision struct {
	Outcome    Outcome                     `json:"outcome"`
	Trigger    model.Trigger               `json:"trigger"`
	Metric     string                      `json:"metric"`
	Score      float64                     `json:"score"`
	Level      model.Level                 `json:"level,omitempty"`
	Candidates []Scored                    `json:"candidates,omitempty"`
	Instance   *model.InterventionInstance `json:"instance,omitempty"`
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMetric sets the state metric the engine decides on.
func WithMetric(metric string) Option {
	return func(e *Engine) {
		if metric != "" {
			e.metric = metric
		}
	}
}

// WithTimeout bounds one decision cycle.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSuppressionPolicy overrides the suppression thresholds.
func WithSuppressionPolicy(p SuppressionPolicy) Option {
	return func(e *Engine) {
		if p.MinShown > 0 && p.AnnoyanceThreshold > 0 {
			e.suppression = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine is the selector state machine.
type Engine struct {
	snapshots   SnapshotReader
	candidates  CandidateSource
	preferences PreferenceSource
	limiter     RateLimiter
	instances   InstanceWriter

	metric      string
	timeout     time.Duration
	suppression SuppressionPolicy
	now         func() time.Time
	logger      logger.Logger
}

// NewEngine wires the engine to its collaborators.
func NewEngine(snapshots SnapshotReader, candidates CandidateSource, preferences PreferenceSource, limiter RateLimiter, instances InstanceWriter, opts ...Option) *Engine {
	e := &Engine{
		snapshots:   snapshots,
		candidates:  candidates,
		preferences: preferences,
		limiter:     limiter,
		instances:   instances,
		metric:      DefaultMetric,
		timeout:     DefaultTimeout,
		suppression: DefaultSuppressionPolicy(),
		now:         time.Now,
		logger:      logger.Named("selector"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InstanceID derives the instance id of a (user, trace) pair. Retries of the
// same trigger always compute the same id.
func InstanceID(userID, traceID string) string {
	return uuid.NewSHA1(instanceNamespace, []byte(userID+"\x00"+traceID)).String()
}

// Evaluate runs one decision cycle for trigger. Normal "no decision"
// outcomes return a nil error; transient failures, timeouts and malformed
// snapshots return OutcomeFailed or OutcomeMalformedSnapshot with an error.
func (e *Engine) Evaluate(ctx context.Context, trigger model.Trigger) (Decision, error) {
	start := time.Now()
	ctx = logger.ContextWithTraceID(ctx, trigger.TraceID)
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	d, err := e.evaluate(ctx, trigger)
	if err != nil {
		if d.Outcome == "" {
			d.Outcome = OutcomeFailed
		}
		if ctxErr := ctx.Err(); ctxErr != nil && d.Outcome == OutcomeFailed {
			err = fmt.Errorf("decision cycle aborted: %w", errors.Join(err, ctxErr))
		}
	}
	e.observe(ctx, d, err, time.Since(start))
	return d, err
}

func (e *Engine) evaluate(ctx context.Context, trigger model.Trigger) (Decision, error) {
	d := Decision{Trigger: trigger, Metric: e.metric}
	if err := trigger.Validate(); err != nil {
		return d, fmt.Errorf("invalid trigger: %w", err)
	}

	// A retried trigger whose instance already exists is a duplicate no
	// matter what the current inputs would decide.
	existing, err := e.instances.InstanceByTrace(ctx, trigger.UserID, trigger.TraceID)
	switch {
	case err == nil:
		d.Outcome = OutcomeDuplicate
		d.Instance = &existing
		return d, nil
	case !errors.Is(err, model.ErrNotFound):
		return d, fmt.Errorf("lookup existing instance: %w", err)
	}

	snap, err := e.snapshots.GetSnapshot(ctx, trigger.UserID, trigger.Timestamp)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			d.Outcome = OutcomeNoSnapshot
			return d, nil
		}
		return d, fmt.Errorf("load snapshot: %w", err)
	}

	score, err := snap.Score(e.metric)
	if err != nil {
		d.Outcome = OutcomeMalformedSnapshot
		return d, fmt.Errorf("%w: %w", model.ErrMalformedSnapshot, err)
	}
	d.Score = score
	d.Level = model.BucketFor(score)

	var (
		candidates []model.CatalogEntry
		prefs      map[string]model.SurfacePreference
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		candidates, err = e.candidates.GetCandidates(gctx, e.metric, d.Level)
		return err
	})
	g.Go(func() error {
		var err error
		prefs, err = e.preferences.GetPreferences(gctx, trigger.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return d, err
	}
	metrics.RecordCandidatesFetched(len(candidates))

	if len(candidates) == 0 {
		d.Outcome = OutcomeNoCandidates
		return d, nil
	}

	d.Candidates = e.score(trigger.UserID, candidates, prefs)
	eligible := Eligible(d.Candidates)
	if len(eligible) == 0 {
		d.Outcome = OutcomeSuppressed
		return d, nil
	}

	// Checked last so suppression stays observable while throttled.
	limited, err := e.limiter.IsRateLimited(ctx, trigger.UserID)
	if err != nil {
		return d, err
	}
	if limited {
		d.Outcome = OutcomeRateLimited
		return d, nil
	}

	winner := Rank(eligible)[0]
	now := e.now().UTC()
	inst := model.InterventionInstance{
		InstanceID:  InstanceID(trigger.UserID, trigger.TraceID),
		UserID:      trigger.UserID,
		TraceID:     trigger.TraceID,
		Metric:      e.metric,
		Level:       d.Level,
		Surface:     winner.Entry.Surface,
		CatalogKey:  winner.Entry.Key,
		Status:      model.StatusCreated,
		CreatedAt:   now,
		ScheduledAt: now,
	}
	res, err := e.instances.CreateInstanceWithinBudget(ctx, inst, e.limiter.Budget())
	if err != nil {
		return d, fmt.Errorf("write instance: %w", err)
	}
	switch res {
	case model.WriteDuplicate:
		d.Outcome = OutcomeDuplicate
	case model.WriteOverBudget:
		// A concurrent cycle spent the budget after the early check.
		d.Outcome = OutcomeRateLimited
	default:
		d.Outcome = OutcomeCreated
		d.Instance = &inst
	}
	return d, nil
}

func (e *Engine) score(userID string, candidates []model.CatalogEntry, prefs map[string]model.SurfacePreference) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		p := preference.Lookup(prefs, userID, c.Surface)
		s := Scored{
			Entry:      c,
			Preference: p,
			Suppressed: e.suppression.Suppressed(p),
			FinalScore: e.suppression.FinalScore(p),
		}
		if s.Suppressed {
			metrics.RecordCandidateSuppressed(c.Surface)
		}
		out = append(out, s)
	}
	return out
}

func (e *Engine) observe(ctx context.Context, d Decision, err error, elapsed time.Duration) {
	metrics.RecordDecision(string(d.Outcome), float64(elapsed.Milliseconds()))

	fields := []logger.Field{
		logger.String("outcome", string(d.Outcome)),
		logger.String("user_id", d.Trigger.UserID),
		logger.String("metric", d.Metric),
		logger.Int("candidates", len(d.Candidates)),
		logger.Duration("elapsed", elapsed),
	}
	if d.Level != "" {
		fields = append(fields, logger.String("level", string(d.Level)), logger.Float64("score", d.Score))
	}

	switch d.Outcome {
	case OutcomeCreated:
		metrics.RecordInstanceCreated(d.Instance.Metric, string(d.Instance.Level), d.Instance.Surface)
		fields = append(fields,
			logger.String("instance_id", d.Instance.InstanceID),
			logger.String("catalog_key", d.Instance.CatalogKey),
			logger.String("surface", d.Instance.Surface),
		)
		e.logger.Info(ctx, "intervention created", fields...)
	case OutcomeSuppressed, OutcomeRateLimited:
		e.logger.Info(ctx, "intervention withheld", fields...)
	case OutcomeMalformedSnapshot:
		metrics.RecordErrorByComponent("selector", "malformed_snapshot")
		e.logger.Warn(ctx, "malformed snapshot", append(fields, logger.Error(err))...)
	case OutcomeFailed:
		metrics.RecordErrorByComponent("selector", "cycle_failed")
		e.logger.Error(ctx, "decision cycle failed", append(fields, logger.Error(err))...)
	default:
		e.logger.Debug(ctx, "no intervention", fields...)
	}
}
