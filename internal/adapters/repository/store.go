// Package repository persists snapshots, the catalog, intervention instances
// and the interaction log.
package repository

import (
	"context"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// SnapshotStore stores immutable state snapshots keyed by (user, timestamp).
type SnapshotStore interface {
	// PutSnapshot stores a snapshot. Rewriting an existing key returns
	// model.ErrDuplicate.
	PutSnapshot(ctx context.Context, snap model.StateSnapshot) error
	// GetSnapshot returns model.ErrNotFound when no snapshot matches.
	GetSnapshot(ctx context.Context, userID string, ts time.Time) (model.StateSnapshot, error)
}

// CatalogStore is the curated content table. The selector only reads it.
type CatalogStore interface {
	CatalogEntries(ctx context.Context, metric string, level model.Level) ([]model.CatalogEntry, error)
	ListCatalog(ctx context.Context) ([]model.CatalogEntry, error)
	// SyncCatalog upserts entries and disables every entry not in the set.
	// Entries are never deleted so instance catalog keys stay resolvable.
	SyncCatalog(ctx context.Context, entries []model.CatalogEntry) (SyncResult, error)
}

// SyncResult summarizes a catalog sync.
type SyncResult struct {
	Upserted int `json:"upserted"`
	Disabled int `json:"disabled"`
}

// InstanceStore is the append-only intervention instance log.
type InstanceStore interface {
	// CreateInstance inserts inst and returns false without error when the
	// (user_id, trace_id) pair already has an instance.
	CreateInstance(ctx context.Context, inst model.InterventionInstance) (bool, error)
	// CreateInstanceWithinBudget inserts inst only while the user has fewer
	// than budget.Max instances created at or after budget.Since. The count
	// and the insert are one atomic step.
	CreateInstanceWithinBudget(ctx context.Context, inst model.InterventionInstance, budget model.Budget) (model.WriteResult, error)
	GetInstance(ctx context.Context, instanceID string) (model.InterventionInstance, error)
	InstanceByTrace(ctx context.Context, userID, traceID string) (model.InterventionInstance, error)
	// ListInstances returns the user's instances with status, newest first.
	ListInstances(ctx context.Context, userID string, status model.Status, limit int) ([]model.InterventionInstance, error)
	// UpdateInstanceStatus moves a created instance to sent or failed.
	UpdateInstanceStatus(ctx context.Context, instanceID string, status model.Status, at time.Time) (model.InterventionInstance, error)
	CountInstancesSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// InteractionStore is the append-only interaction event log.
type InteractionStore interface {
	// AppendInteraction stores ev and returns false when the event id was
	// already recorded.
	AppendInteraction(ctx context.Context, ev model.InteractionEvent) (bool, error)
	SurfaceEvents(ctx context.Context, userID string, since time.Time) ([]model.SurfaceEvent, error)
}

// Store bundles every store the service needs.
type Store interface {
	SnapshotStore
	CatalogStore
	InstanceStore
	InteractionStore
	Close() error
}
