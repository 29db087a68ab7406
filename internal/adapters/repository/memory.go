package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

type snapshotKey struct {
	userID string
	tsNs   int64
}

type traceKey struct {
	userID  string
	traceID string
}

// MemoryStore implements Store with mutex-guarded maps. It has the same
// semantics as SQLiteStore and backs unit tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	closed    bool
	snapshots map[snapshotKey]model.StateSnapshot
	catalog   map[string]model.CatalogEntry
	instances map[string]model.InterventionInstance
	byTrace   map[traceKey]string
	events    []model.InteractionEvent
	eventIDs  map[string]struct{}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[snapshotKey]model.StateSnapshot),
		catalog:   make(map[string]model.CatalogEntry),
		instances: make(map[string]model.InterventionInstance),
		byTrace:   make(map[traceKey]string),
		eventIDs:  make(map[string]struct{}),
	}
}

// Close marks the store closed; later calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed {
		return ErrClosed
	}
	return nil
}

// PutSnapshot stores an immutable snapshot.
func (m *MemoryStore) PutSnapshot(ctx context.Context, snap model.StateSnapshot) error {
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	key := snapshotKey{snap.UserID, toNanos(snap.Timestamp)}
	if _, ok := m.snapshots[key]; ok {
		return fmt.Errorf("snapshot %s: %w", snap.UserID, model.ErrDuplicate)
	}
	scores := make(map[string]float64, len(snap.MetricScores))
	for k, v := range snap.MetricScores {
		scores[k] = v
	}
	snap.MetricScores = scores
	snap.Timestamp = snap.Timestamp.UTC()
	m.snapshots[key] = snap
	return nil
}

// GetSnapshot reads the snapshot written for (userID, ts).
func (m *MemoryStore) GetSnapshot(ctx context.Context, userID string, ts time.Time) (model.StateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return model.StateSnapshot{}, err
	}
	snap, ok := m.snapshots[snapshotKey{userID, toNanos(ts)}]
	if !ok {
		return model.StateSnapshot{}, fmt.Errorf("snapshot %s: %w", userID, model.ErrNotFound)
	}
	return snap, nil
}

// CatalogEntries returns every entry of the (metric, level) bucket.
func (m *MemoryStore) CatalogEntries(ctx context.Context, metric string, level model.Level) ([]model.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var out []model.CatalogEntry
	for _, e := range m.catalog {
		if e.Metric == metric && e.Level == level {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// ListCatalog returns the whole catalog ordered by key.
func (m *MemoryStore) ListCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	out := make([]model.CatalogEntry, 0, len(m.catalog))
	for _, e := range m.catalog {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func sortEntries(entries []model.CatalogEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
}

// SyncCatalog upserts entries and disables the rest.
func (m *MemoryStore) SyncCatalog(ctx context.Context, entries []model.CatalogEntry) (SyncResult, error) {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return SyncResult{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return SyncResult{}, err
	}

	var res SyncResult
	keep := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		m.catalog[e.Key] = e
		keep[e.Key] = struct{}{}
		res.Upserted++
	}
	for key, e := range m.catalog {
		if _, ok := keep[key]; ok || !e.Enabled {
			continue
		}
		e.Enabled = false
		m.catalog[key] = e
		res.Disabled++
	}
	return res, nil
}

// CreateInstance inserts inst unless (user_id, trace_id) already exists.
func (m *MemoryStore) CreateInstance(ctx context.Context, inst model.InterventionInstance) (bool, error) {
	if err := validateInstance(inst); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return false, err
	}
	tk := traceKey{inst.UserID, inst.TraceID}
	if _, ok := m.byTrace[tk]; ok {
		return false, nil
	}
	if _, ok := m.instances[inst.InstanceID]; ok {
		return false, nil
	}
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.ScheduledAt = inst.ScheduledAt.UTC()
	inst.SentAt = nil
	m.instances[inst.InstanceID] = inst
	m.byTrace[tk] = inst.InstanceID
	return true, nil
}

// CreateInstanceWithinBudget counts and inserts under one lock.
func (m *MemoryStore) CreateInstanceWithinBudget(ctx context.Context, inst model.InterventionInstance, budget model.Budget) (model.WriteResult, error) {
	if err := validateInstance(inst); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return "", err
	}
	tk := traceKey{inst.UserID, inst.TraceID}
	if _, ok := m.byTrace[tk]; ok {
		return model.WriteDuplicate, nil
	}
	if _, ok := m.instances[inst.InstanceID]; ok {
		return model.WriteDuplicate, nil
	}
	if m.countSince(inst.UserID, budget.Since) >= budget.Max {
		return model.WriteOverBudget, nil
	}
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.ScheduledAt = inst.ScheduledAt.UTC()
	inst.SentAt = nil
	m.instances[inst.InstanceID] = inst
	m.byTrace[tk] = inst.InstanceID
	return model.WriteCreated, nil
}

// GetInstance reads one instance by id.
func (m *MemoryStore) GetInstance(ctx context.Context, instanceID string) (model.InterventionInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return model.InterventionInstance{}, err
	}
	inst, ok := m.instances[instanceID]
	if !ok {
		return model.InterventionInstance{}, fmt.Errorf("instance %s: %w", instanceID, model.ErrNotFound)
	}
	return inst, nil
}

// InstanceByTrace reads the instance a trigger produced, if any.
func (m *MemoryStore) InstanceByTrace(ctx context.Context, userID, traceID string) (model.InterventionInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return model.InterventionInstance{}, err
	}
	id, ok := m.byTrace[traceKey{userID, traceID}]
	if !ok {
		return model.InterventionInstance{}, fmt.Errorf("instance for trace %s: %w", traceID, model.ErrNotFound)
	}
	return m.instances[id], nil
}

// ListInstances returns the user's instances in status, newest first.
func (m *MemoryStore) ListInstances(ctx context.Context, userID string, status model.Status, limit int) ([]model.InterventionInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var out []model.InterventionInstance
	for _, inst := range m.instances {
		if inst.UserID == userID && inst.Status == status {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].InstanceID < out[j].InstanceID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateInstanceStatus applies created -> sent|failed.
func (m *MemoryStore) UpdateInstanceStatus(ctx context.Context, instanceID string, status model.Status, at time.Time) (model.InterventionInstance, error) {
	if err := validateTargetStatus(status); err != nil {
		return model.InterventionInstance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return model.InterventionInstance{}, err
	}
	inst, ok := m.instances[instanceID]
	if !ok {
		return model.InterventionInstance{}, fmt.Errorf("instance %s: %w", instanceID, model.ErrNotFound)
	}
	if !inst.Status.CanTransition(status) {
		return inst, fmt.Errorf("instance %s is %s: %w", instanceID, inst.Status, model.ErrInvalidTransition)
	}
	inst.Status = status
	if status == model.StatusSent {
		sentAt := at.UTC()
		inst.SentAt = &sentAt
	}
	m.instances[instanceID] = inst
	return inst, nil
}

// CountInstancesSince counts the user's instances created at or after since.
func (m *MemoryStore) CountInstancesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	return m.countSince(userID, since), nil
}

func (m *MemoryStore) countSince(userID string, since time.Time) int {
	n := 0
	for _, inst := range m.instances {
		if inst.UserID == userID && !inst.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

// AppendInteraction appends ev; a repeated event id is ignored.
func (m *MemoryStore) AppendInteraction(ctx context.Context, ev model.InteractionEvent) (bool, error) {
	if err := validateEvent(ev); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return false, err
	}
	if _, ok := m.eventIDs[ev.EventID]; ok {
		return false, nil
	}
	ev.Timestamp = ev.Timestamp.UTC()
	m.eventIDs[ev.EventID] = struct{}{}
	m.events = append(m.events, ev)
	return true, nil
}

// SurfaceEvents joins the user's events with their instances' surfaces.
func (m *MemoryStore) SurfaceEvents(ctx context.Context, userID string, since time.Time) ([]model.SurfaceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var out []model.SurfaceEvent
	for _, ev := range m.events {
		if ev.UserID != userID || ev.InstanceID == "" || ev.Timestamp.Before(since) {
			continue
		}
		inst, ok := m.instances[ev.InstanceID]
		if !ok || inst.UserID != userID {
			continue
		}
		out = append(out, model.SurfaceEvent{
			InstanceID: ev.InstanceID,
			Surface:    inst.Surface,
			EventType:  ev.EventType,
			Timestamp:  ev.Timestamp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
