// Package service wires the stores, the intake pipeline and the decision
// engine, and implements the dependencies required by the HTTP API and the
// admin CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/meigsy/shift-sub001/internal/adapters/mq/queue"
	workerpool "github.com/meigsy/shift-sub001/internal/adapters/mq/worker"
	"github.com/meigsy/shift-sub001/internal/adapters/repository"
	"github.com/meigsy/shift-sub001/internal/domain/catalog"
	"github.com/meigsy/shift-sub001/internal/domain/dedupe"
	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/internal/domain/preference"
	"github.com/meigsy/shift-sub001/internal/domain/ratelimit"
	"github.com/meigsy/shift-sub001/internal/domain/selector"
	"github.com/meigsy/shift-sub001/pkg/logger"
	"github.com/meigsy/shift-sub001/pkg/metrics"
)

// Default service configuration.
const (
	DefaultDBPath     = "data/shift.db"
	DefaultQueueSize  = 10_000
	DefaultDedupeSize = 50_000
	shutdownTimeout   = 30 * time.Second
)

// SubmitStatus is the intake result of a trigger.
type SubmitStatus string

// Intake results.
const (
	SubmitAccepted  SubmitStatus = "accepted"
	SubmitDuplicate SubmitStatus = "duplicate"
)

// InteractionResult describes an appended interaction event.
type InteractionResult struct {
	EventID  string `json:"event_id"`
	Appended bool   `json:"appended"`
	// Signal is the canonical signal of the event type, or "unmapped" when
	// the aggregator will ignore it.
	Signal string `json:"signal"`
}

// Service implements the API dependencies for intervention selection.
type Service struct {
	mu sync.RWMutex

	store     repository.Store
	ownsStore bool
	deduper   dedupe.Deduper
	queue     *eventqueue.InMemoryQueue
	limiter   *ratelimit.Limiter
	prefs     *preference.Aggregator
	engine    *selector.Engine
	pool      *workerpool.Pool

	dbPath       string
	workerCount  int
	queueSize    int
	dedupeSize   int
	metric       string
	cycleTimeout time.Duration
	rateWindow   time.Duration
	rateMax      int
	prefWindow   time.Duration
	annoyanceCap float64
	suppression  selector.SuppressionPolicy
	mapping      preference.Mapping
	now          func() time.Time

	statsMu  sync.Mutex
	outcomes map[selector.Outcome]int64

	started bool
	logger  logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dbPath:       DefaultDBPath,
		workerCount:  runtime.NumCPU(),
		queueSize:    DefaultQueueSize,
		dedupeSize:   DefaultDedupeSize,
		metric:       selector.DefaultMetric,
		cycleTimeout: selector.DefaultTimeout,
		rateWindow:   ratelimit.DefaultWindow,
		rateMax:      ratelimit.DefaultMaxCount,
		prefWindow:   preference.DefaultWindow,
		annoyanceCap: preference.DefaultAnnoyanceCap,
		suppression:  selector.DefaultSuppressionPolicy(),
		mapping:      preference.DefaultMapping(),
		now:          time.Now,
		outcomes:     make(map[selector.Outcome]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store when none was injected and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting intervention service...")

	if s.store == nil {
		store, err := repository.NewSQLiteStore(ctx, s.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
		s.ownsStore = true
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.dbPath))
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.limiter = ratelimit.NewLimiter(s.store,
		ratelimit.WithWindow(s.rateWindow),
		ratelimit.WithMaxCount(s.rateMax),
		ratelimit.WithClock(s.now),
	)
	s.prefs = preference.NewAggregator(s.store,
		preference.WithWindow(s.prefWindow),
		preference.WithAnnoyanceCap(s.annoyanceCap),
		preference.WithMapping(s.mapping),
		preference.WithClock(s.now),
	)
	s.engine = selector.NewEngine(
		s.store,
		catalog.NewLookup(s.store),
		s.prefs,
		s.limiter,
		s.store,
		selector.WithMetric(s.metric),
		selector.WithTimeout(s.cycleTimeout),
		selector.WithSuppressionPolicy(s.suppression),
		selector.WithClock(s.now),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.engine,
		workerpool.WithResultHandler(s.onDecision),
	)
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "intervention service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.String("metric", s.metric),
	)
	return nil
}

// Stop drains queued triggers, stops the workers and closes an owned store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping intervention service...")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	poolErr := s.pool.Shutdown(shutdownCtx)
	if poolErr != nil {
		errs = append(errs, poolErr)
	}
	if s.ownsStore {
		switch {
		case poolErr != nil:
			// Workers still mid-cycle keep using the store until they return.
			s.logger.Warn(ctx, "closing store once in-flight cycles finish", logger.Error(poolErr))
			go closeAfter(s.pool, s.store, s.logger)
		default:
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		s.store = nil
	}
	s.started = false
	s.logger.Info(ctx, "intervention service stopped")
	return errors.Join(errs...)
}

func closeAfter(pool *workerpool.Pool, store repository.Store, log logger.Logger) {
	pool.Wait()
	if err := store.Close(); err != nil {
		log.Error(context.Background(), "close store", logger.Error(err))
	}
}

// components returns the running components or ErrNotStarted.
func (s *Service) components() (repository.Store, *selector.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, ErrNotStarted
	}
	return s.store, s.engine, nil
}

// onDecision tracks outcomes and forgets the intake key of failed cycles so
// a redelivered trigger is evaluated again.
func (s *Service) onDecision(ctx context.Context, t model.Trigger, d selector.Decision, _ error) {
	s.statsMu.Lock()
	s.outcomes[d.Outcome]++
	s.statsMu.Unlock()

	if d.Outcome == selector.OutcomeFailed {
		s.deduper.Unrecord(ctx, t.IdempotencyKey())
	}
}

// SubmitTrigger accepts a trigger for asynchronous evaluation. A trigger
// already accepted is reported as a duplicate; a full queue returns
// ErrBackpressure and the trigger may be redelivered.
func (s *Service) SubmitTrigger(ctx context.Context, t model.Trigger) (SubmitStatus, error) {
	if _, _, err := s.components(); err != nil {
		return "", err
	}
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	t.Timestamp = t.Timestamp.UTC()

	key := t.IdempotencyKey()
	if s.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordTriggerDuplicate()
		s.logger.Debug(ctx, "duplicate trigger", logger.String("user_id", t.UserID), logger.String("trace_id", t.TraceID))
		return SubmitDuplicate, nil
	}
	if err := s.queue.Enqueue(ctx, t); err != nil {
		s.deduper.Unrecord(ctx, key)
		if errors.Is(err, eventqueue.ErrFull) || errors.Is(err, eventqueue.ErrClosed) {
			return "", fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return "", err
	}
	metrics.RecordTriggerAccepted()
	return SubmitAccepted, nil
}

// EvaluateNow runs a decision cycle synchronously, bypassing the queue.
func (s *Service) EvaluateNow(ctx context.Context, t model.Trigger) (selector.Decision, error) {
	_, engine, err := s.components()
	if err != nil {
		return selector.Decision{}, err
	}
	d, err := engine.Evaluate(ctx, t)
	s.statsMu.Lock()
	s.outcomes[d.Outcome]++
	s.statsMu.Unlock()
	return d, err
}

// PutSnapshot stores an immutable state snapshot.
func (s *Service) PutSnapshot(ctx context.Context, snap model.StateSnapshot) error {
	store, _, err := s.components()
	if err != nil {
		return err
	}
	snap.Timestamp = snap.Timestamp.UTC()
	return mapStoreErr(store.PutSnapshot(ctx, snap))
}

// RecordInteraction appends an interaction event. A missing event id is
// generated and a missing timestamp defaults to now.
func (s *Service) RecordInteraction(ctx context.Context, ev model.InteractionEvent) (InteractionResult, error) {
	store, _, err := s.components()
	if err != nil {
		return InteractionResult{}, err
	}
	ev.EventType = strings.TrimSpace(ev.EventType)
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()

	appended, err := store.AppendInteraction(ctx, ev)
	if err != nil {
		return InteractionResult{}, mapStoreErr(err)
	}

	signal := "unmapped"
	if sig, ok := s.mapping.Signal(ev.EventType); ok {
		signal = string(sig)
	}
	if appended {
		metrics.RecordInteraction(signal)
	}
	return InteractionResult{EventID: ev.EventID, Appended: appended, Signal: signal}, nil
}

// ListInstances returns the user's instances with status, newest first.
func (s *Service) ListInstances(ctx context.Context, userID string, status model.Status, limit int) ([]model.InterventionInstance, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	out, err := store.ListInstances(ctx, userID, status, limit)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if out == nil {
		out = []model.InterventionInstance{}
	}
	return out, nil
}

// GetInstance returns one instance.
func (s *Service) GetInstance(ctx context.Context, instanceID string) (model.InterventionInstance, error) {
	store, _, err := s.components()
	if err != nil {
		return model.InterventionInstance{}, err
	}
	inst, err := store.GetInstance(ctx, instanceID)
	return inst, mapStoreErr(err)
}

// UpdateInstanceStatus records a delivery outcome for a created instance.
func (s *Service) UpdateInstanceStatus(ctx context.Context, instanceID string, status model.Status) (model.InterventionInstance, error) {
	store, _, err := s.components()
	if err != nil {
		return model.InterventionInstance{}, err
	}
	inst, err := store.UpdateInstanceStatus(ctx, instanceID, status, s.now())
	if err != nil {
		return inst, mapStoreErr(err)
	}
	metrics.RecordStatusTransition(string(status))
	s.logger.Info(ctx, "instance status updated",
		logger.String("instance_id", instanceID),
		logger.String("status", string(status)),
	)
	return inst, nil
}

// GetPreferences returns the user's per-surface preferences ordered by
// surface.
func (s *Service) GetPreferences(ctx context.Context, userID string) ([]model.SurfacePreference, error) {
	if _, _, err := s.components(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidInput)
	}
	prefs, err := s.prefs.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return preference.Sorted(prefs), nil
}

// RateLimitUsage returns how much of the user's budget is spent.
func (s *Service) RateLimitUsage(ctx context.Context, userID string) (used, limit int, err error) {
	if _, _, err := s.components(); err != nil {
		return 0, 0, err
	}
	used, err = s.limiter.Count(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	return used, s.limiter.MaxCount(), nil
}

// SyncCatalog replaces the catalog contents; omitted entries are disabled.
func (s *Service) SyncCatalog(ctx context.Context, entries []model.CatalogEntry) (repository.SyncResult, error) {
	store, _, err := s.components()
	if err != nil {
		return repository.SyncResult{}, err
	}
	res, err := store.SyncCatalog(ctx, entries)
	if err != nil {
		return repository.SyncResult{}, mapStoreErr(err)
	}
	s.logger.Info(ctx, "catalog synced", logger.Int("upserted", res.Upserted), logger.Int("disabled", res.Disabled))
	return res, nil
}

// ListCatalog returns every catalog entry.
func (s *Service) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	store, _, err := s.components()
	if err != nil {
		return nil, err
	}
	out, err := store.ListCatalog(ctx)
	return out, mapStoreErr(err)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"metric":      s.metric,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len()
	stats["queueLength"] = queueLen
	stats["dedupeEntries"] = s.deduper.Size()
	stats["processed"] = s.pool.Processed()

	s.statsMu.Lock()
	outcomes := make(map[string]int64, len(s.outcomes))
	for o, n := range s.outcomes {
		outcomes[string(o)] = n
	}
	s.statsMu.Unlock()
	stats["outcomes"] = outcomes

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateWorkerCount(s.pool.Size())
	return stats
}

// mapStoreErr turns store validation failures into ErrInvalidInput.
func mapStoreErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrInvalidInput) && !errors.Is(err, ErrInvalidInput) {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return err
}
