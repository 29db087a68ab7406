package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/pkg/metrics"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS state_snapshots (
	user_id        TEXT    NOT NULL,
	ts_ns          INTEGER NOT NULL,
	metric_scores  TEXT    NOT NULL,
	trace_id       TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (user_id, ts_ns)
);

CREATE TABLE IF NOT EXISTS catalog_entries (
	key            TEXT    PRIMARY KEY,
	metric         TEXT    NOT NULL,
	level          TEXT    NOT NULL CHECK (level IN ('low', 'medium', 'high')),
	surface        TEXT    NOT NULL,
	title          TEXT    NOT NULL DEFAULT '',
	body           TEXT    NOT NULL DEFAULT '',
	enabled        INTEGER NOT NULL DEFAULT 1,
	updated_at_ns  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_bucket ON catalog_entries(metric, level);

CREATE TABLE IF NOT EXISTS intervention_instances (
	instance_id      TEXT    PRIMARY KEY,
	user_id          TEXT    NOT NULL,
	trace_id         TEXT    NOT NULL,
	metric           TEXT    NOT NULL,
	level            TEXT    NOT NULL,
	surface          TEXT    NOT NULL,
	catalog_key      TEXT    NOT NULL,
	status           TEXT    NOT NULL CHECK (status IN ('created', 'sent', 'failed')),
	created_at_ns    INTEGER NOT NULL,
	scheduled_at_ns  INTEGER NOT NULL,
	sent_at_ns       INTEGER,
	UNIQUE (user_id, trace_id)
);
CREATE INDEX IF NOT EXISTS idx_instances_user_created ON intervention_instances(user_id, created_at_ns);
CREATE INDEX IF NOT EXISTS idx_instances_user_status ON intervention_instances(user_id, status, created_at_ns);

CREATE TABLE IF NOT EXISTS interaction_events (
	event_id     TEXT    PRIMARY KEY,
	instance_id  TEXT,
	user_id      TEXT    NOT NULL,
	event_type   TEXT    NOT NULL,
	ts_ns        INTEGER NOT NULL,
	trace_id     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_user_ts ON interaction_events(user_id, ts_ns);
`

const instanceColumns = `instance_id, user_id, trace_id, metric, level, surface, catalog_key, status, created_at_ns, scheduled_at_ns, sent_at_ns`

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// migrations. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !memory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	dsn := sqliteDSN(path, o.busyTimeout)
	if memory {
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)", o.busyTimeout.Milliseconds())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
	}

	if !memory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma wal: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteDSN builds a file URI for path. Characters such as '?', '#' and '%'
// are percent-encoded so they stay part of the file name.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	u := url.URL{Path: filepath.ToSlash(path)}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", u.EscapedPath(), busyTimeout.Milliseconds())
}

// observe records latency and, on failure, an error for operation.
func observe(operation string, start time.Time, err *error) {
	metrics.RecordStoreLatency(operation, float64(time.Since(start).Microseconds())/1000)
	if err != nil && *err != nil && !errors.Is(*err, model.ErrNotFound) {
		metrics.RecordStoreError(operation)
	}
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(ns int64) time.Time { return time.Unix(0, ns).UTC() }

// PutSnapshot stores an immutable snapshot.
func (s *SQLiteStore) PutSnapshot(ctx context.Context, snap model.StateSnapshot) (err error) {
	defer observe("put_snapshot", time.Now(), &err)
	if err := validateSnapshot(snap); err != nil {
		return err
	}
	scores, err := json.Marshal(snap.MetricScores)
	if err != nil {
		return fmt.Errorf("marshal metric scores: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO state_snapshots (user_id, ts_ns, metric_scores, trace_id)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		snap.UserID, toNanos(snap.Timestamp), string(scores), snap.TraceID,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snapshot %s@%s: %w", snap.UserID, snap.Timestamp.UTC().Format(time.RFC3339Nano), model.ErrDuplicate)
	}
	return nil
}

// GetSnapshot reads the snapshot written for (userID, ts).
func (s *SQLiteStore) GetSnapshot(ctx context.Context, userID string, ts time.Time) (snap model.StateSnapshot, err error) {
	defer observe("get_snapshot", time.Now(), &err)
	var (
		tsNs   int64
		scores string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, ts_ns, metric_scores, trace_id FROM state_snapshots WHERE user_id = ? AND ts_ns = ?`,
		userID, toNanos(ts),
	).Scan(&snap.UserID, &tsNs, &scores, &snap.TraceID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StateSnapshot{}, fmt.Errorf("snapshot %s: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return model.StateSnapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Timestamp = fromNanos(tsNs)
	if err := json.Unmarshal([]byte(scores), &snap.MetricScores); err != nil {
		return model.StateSnapshot{}, fmt.Errorf("unmarshal metric scores: %w", err)
	}
	return snap, nil
}

// CatalogEntries returns every entry of the (metric, level) bucket.
func (s *SQLiteStore) CatalogEntries(ctx context.Context, metric string, level model.Level) (entries []model.CatalogEntry, err error) {
	defer observe("catalog_entries", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, metric, level, surface, title, body, enabled
		 FROM catalog_entries WHERE metric = ? AND level = ? ORDER BY key`,
		metric, string(level),
	)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return scanEntries(rows)
}

// ListCatalog returns the whole catalog ordered by key.
func (s *SQLiteStore) ListCatalog(ctx context.Context) (entries []model.CatalogEntry, err error) {
	defer observe("list_catalog", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, metric, level, surface, title, body, enabled FROM catalog_entries ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]model.CatalogEntry, error) {
	defer rows.Close()
	var out []model.CatalogEntry
	for rows.Next() {
		var (
			e       model.CatalogEntry
			level   string
			enabled int
		)
		if err := rows.Scan(&e.Key, &e.Metric, &level, &e.Surface, &e.Title, &e.Body, &enabled); err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		e.Level = model.Level(level)
		e.Enabled = enabled != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return out, nil
}

// SyncCatalog upserts entries and disables the rest in one transaction.
func (s *SQLiteStore) SyncCatalog(ctx context.Context, entries []model.CatalogEntry) (res SyncResult, err error) {
	defer observe("sync_catalog", time.Now(), &err)
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return SyncResult{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SyncResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := toNanos(time.Now())
	keep := make([]any, 0, len(entries))
	for _, e := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_entries (key, metric, level, surface, title, body, enabled, updated_at_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
			   metric = excluded.metric, level = excluded.level, surface = excluded.surface,
			   title = excluded.title, body = excluded.body, enabled = excluded.enabled,
			   updated_at_ns = excluded.updated_at_ns`,
			e.Key, e.Metric, string(e.Level), e.Surface, e.Title, e.Body, boolToInt(e.Enabled), now,
		); err != nil {
			return SyncResult{}, fmt.Errorf("upsert catalog entry %s: %w", e.Key, err)
		}
		keep = append(keep, e.Key)
		res.Upserted++
	}

	disable := `UPDATE catalog_entries SET enabled = 0, updated_at_ns = ? WHERE enabled = 1`
	args := []any{now}
	if len(keep) > 0 {
		disable += ` AND key NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		args = append(args, keep...)
	}
	r, err := tx.ExecContext(ctx, disable, args...)
	if err != nil {
		return SyncResult{}, fmt.Errorf("disable stale entries: %w", err)
	}
	n, _ := r.RowsAffected()
	res.Disabled = int(n)

	if err := tx.Commit(); err != nil {
		return SyncResult{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// CreateInstance inserts inst unless (user_id, trace_id) already exists.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst model.InterventionInstance) (created bool, err error) {
	defer observe("create_instance", time.Now(), &err)
	if err := validateInstance(inst); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO intervention_instances (`+instanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		 ON CONFLICT DO NOTHING`,
		inst.InstanceID, inst.UserID, inst.TraceID, inst.Metric, string(inst.Level), inst.Surface,
		inst.CatalogKey, string(inst.Status), toNanos(inst.CreatedAt), toNanos(inst.ScheduledAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// CreateInstanceWithinBudget inserts inst when the trace is new and the
// user's windowed count is below budget.Max. SQLite takes the write lock
// before the statement reads, so concurrent writers cannot both pass the
// count.
func (s *SQLiteStore) CreateInstanceWithinBudget(ctx context.Context, inst model.InterventionInstance, budget model.Budget) (res model.WriteResult, err error) {
	defer observe("create_instance_budgeted", time.Now(), &err)
	if err := validateInstance(inst); err != nil {
		return "", err
	}
	r, err := s.db.ExecContext(ctx,
		`INSERT INTO intervention_instances (`+instanceColumns+`)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL
		 WHERE (SELECT COUNT(*) FROM intervention_instances
		        WHERE user_id = ? AND created_at_ns >= ?) < ?
		 ON CONFLICT DO NOTHING`,
		inst.InstanceID, inst.UserID, inst.TraceID, inst.Metric, string(inst.Level), inst.Surface,
		inst.CatalogKey, string(inst.Status), toNanos(inst.CreatedAt), toNanos(inst.ScheduledAt),
		inst.UserID, toNanos(budget.Since), budget.Max,
	)
	if err != nil {
		return "", fmt.Errorf("insert instance: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return model.WriteCreated, nil
	}

	// Instances are never deleted, so a missing row means the budget refused it.
	var one int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM intervention_instances
		 WHERE (user_id = ? AND trace_id = ?) OR instance_id = ? LIMIT 1`,
		inst.UserID, inst.TraceID, inst.InstanceID,
	).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.WriteOverBudget, nil
	case err != nil:
		return "", fmt.Errorf("lookup instance: %w", err)
	default:
		return model.WriteDuplicate, nil
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (model.InterventionInstance, error) {
	var (
		inst               model.InterventionInstance
		level, status      string
		createdNs, schedNs int64
		sentNs             sql.NullInt64
	)
	if err := row.Scan(&inst.InstanceID, &inst.UserID, &inst.TraceID, &inst.Metric, &level, &inst.Surface,
		&inst.CatalogKey, &status, &createdNs, &schedNs, &sentNs); err != nil {
		return model.InterventionInstance{}, err
	}
	inst.Level = model.Level(level)
	inst.Status = model.Status(status)
	inst.CreatedAt = fromNanos(createdNs)
	inst.ScheduledAt = fromNanos(schedNs)
	if sentNs.Valid {
		t := fromNanos(sentNs.Int64)
		inst.SentAt = &t
	}
	return inst, nil
}

// GetInstance reads one instance by id.
func (s *SQLiteStore) GetInstance(ctx context.Context, instanceID string) (inst model.InterventionInstance, err error) {
	defer observe("get_instance", time.Now(), &err)
	inst, err = scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM intervention_instances WHERE instance_id = ?`, instanceID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.InterventionInstance{}, fmt.Errorf("instance %s: %w", instanceID, model.ErrNotFound)
	}
	if err != nil {
		return model.InterventionInstance{}, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// InstanceByTrace reads the instance a trigger produced, if any.
func (s *SQLiteStore) InstanceByTrace(ctx context.Context, userID, traceID string) (inst model.InterventionInstance, err error) {
	defer observe("instance_by_trace", time.Now(), &err)
	inst, err = scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM intervention_instances WHERE user_id = ? AND trace_id = ?`, userID, traceID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.InterventionInstance{}, fmt.Errorf("instance for trace %s: %w", traceID, model.ErrNotFound)
	}
	if err != nil {
		return model.InterventionInstance{}, fmt.Errorf("get instance by trace: %w", err)
	}
	return inst, nil
}

// ListInstances returns the user's instances in status, newest first.
func (s *SQLiteStore) ListInstances(ctx context.Context, userID string, status model.Status, limit int) (out []model.InterventionInstance, err error) {
	defer observe("list_instances", time.Now(), &err)
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM intervention_instances
		 WHERE user_id = ? AND status = ?
		 ORDER BY created_at_ns DESC, instance_id
		 LIMIT ?`,
		userID, string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// UpdateInstanceStatus applies created -> sent|failed. Only status and
// sent_at are ever rewritten.
func (s *SQLiteStore) UpdateInstanceStatus(ctx context.Context, instanceID string, status model.Status, at time.Time) (inst model.InterventionInstance, err error) {
	defer observe("update_instance_status", time.Now(), &err)
	if err := validateTargetStatus(status); err != nil {
		return model.InterventionInstance{}, err
	}
	var sentAt any
	if status == model.StatusSent {
		sentAt = toNanos(at)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE intervention_instances SET status = ?, sent_at_ns = ?
		 WHERE instance_id = ? AND status = 'created'`,
		string(status), sentAt, instanceID,
	)
	if err != nil {
		return model.InterventionInstance{}, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.InterventionInstance{}, fmt.Errorf("rows affected: %w", err)
	}

	current, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return model.InterventionInstance{}, err
	}
	if n == 0 {
		return current, fmt.Errorf("instance %s is %s: %w", instanceID, current.Status, model.ErrInvalidTransition)
	}
	return current, nil
}

// CountInstancesSince counts the user's instances created at or after since.
func (s *SQLiteStore) CountInstancesSince(ctx context.Context, userID string, since time.Time) (n int, err error) {
	defer observe("count_instances", time.Now(), &err)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM intervention_instances WHERE user_id = ? AND created_at_ns >= ?`,
		userID, toNanos(since),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

// AppendInteraction appends ev to the log; a repeated event id is ignored.
func (s *SQLiteStore) AppendInteraction(ctx context.Context, ev model.InteractionEvent) (appended bool, err error) {
	defer observe("append_interaction", time.Now(), &err)
	if err := validateEvent(ev); err != nil {
		return false, err
	}
	var instanceID any
	if ev.InstanceID != "" {
		instanceID = ev.InstanceID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO interaction_events (event_id, instance_id, user_id, event_type, ts_ns, trace_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		ev.EventID, instanceID, ev.UserID, ev.EventType, toNanos(ev.Timestamp), ev.TraceID,
	)
	if err != nil {
		return false, fmt.Errorf("insert interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SurfaceEvents joins the user's events with their instances' surfaces.
func (s *SQLiteStore) SurfaceEvents(ctx context.Context, userID string, since time.Time) (out []model.SurfaceEvent, err error) {
	defer observe("surface_events", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.instance_id, i.surface, e.event_type, e.ts_ns
		 FROM interaction_events e
		 JOIN intervention_instances i ON i.instance_id = e.instance_id AND i.user_id = e.user_id
		 WHERE e.user_id = ? AND e.ts_ns >= ?
		 ORDER BY e.ts_ns, e.event_id`,
		userID, toNanos(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query surface events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev   model.SurfaceEvent
			tsNs int64
		)
		if err := rows.Scan(&ev.InstanceID, &ev.Surface, &ev.EventType, &tsNs); err != nil {
			return nil, fmt.Errorf("scan surface event: %w", err)
		}
		ev.Timestamp = fromNanos(tsNs)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate surface events: %w", err)
	}
	return out, nil
}
