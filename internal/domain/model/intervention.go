// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Level is the discretized bucket of a continuous metric score.
type Level string

// Levels, ordered from least to most severe.
const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Bucket boundaries. A score equal to a boundary falls into the lower bucket.
const (
	LowUpperBound    = 0.3
	MediumUpperBound = 0.7
)

// BucketFor maps a score in [0,1] to its level: high above 0.7, medium in
// (0.3, 0.7], low at or below 0.3.
func BucketFor(score float64) Level {
	switch {
	case score > MediumUpperBound:
		return LevelHigh
	case score > LowUpperBound:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ParseLevel validates a level string.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelLow, LevelMedium, LevelHigh:
		return l, nil
	default:
		return "", fmt.Errorf("unknown level %q", s)
	}
}

// Status is the delivery status of an intervention instance.
type Status string

// Instance statuses. created is the only non-terminal status.
const (
	StatusCreated Status = "created"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusCreated, StatusSent, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// CanTransition reports whether an instance may move from s to next.
// Only created -> sent and created -> failed are allowed.
func (s Status) CanTransition(next Status) bool {
	return s == StatusCreated && (next == StatusSent || next == StatusFailed)
}

// Trigger points at a freshly written StateSnapshot.
type Trigger struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id"`
}

// Validate checks that the trigger identifies a snapshot and carries a trace.
func (t Trigger) Validate() error {
	switch {
	case strings.TrimSpace(t.UserID) == "":
		return fmt.Errorf("missing user_id")
	case strings.TrimSpace(t.TraceID) == "":
		return fmt.Errorf("missing trace_id")
	case t.Timestamp.IsZero():
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// IdempotencyKey identifies the decision a trigger can produce.
func (t Trigger) IdempotencyKey() string {
	return t.UserID + "\x00" + t.TraceID
}

// StateSnapshot is an immutable view of a user's computed state.
type StateSnapshot struct {
	UserID       string             `json:"user_id"`
	Timestamp    time.Time          `json:"timestamp"`
	MetricScores map[string]float64 `json:"metric_scores"`
	TraceID      string             `json:"trace_id"`
}

// Score returns the named metric score, or an error when it is missing or
// outside [0,1].
func (s StateSnapshot) Score(metric string) (float64, error) {
	v, ok := s.MetricScores[metric]
	if !ok {
		return 0, fmt.Errorf("metric %q missing from snapshot", metric)
	}
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("metric %q score %v out of range [0,1]", metric, v)
	}
	return v, nil
}

// CatalogEntry is one piece of curated intervention content.
type CatalogEntry struct {
	Key     string `json:"key" yaml:"key"`
	Metric  string `json:"metric" yaml:"metric"`
	Level   Level  `json:"level" yaml:"level"`
	Surface string `json:"surface" yaml:"surface"`
	Title   string `json:"title" yaml:"title"`
	Body    string `json:"body" yaml:"body"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// SurfacePreference is the derived engagement/annoyance aggregate of one
// user on one surface.
type SurfacePreference struct {
	UserID          string  `json:"user_id"`
	Surface         string  `json:"surface"`
	ShownCount      int     `json:"shown_count"`
	EngagementCount int     `json:"engagement_count"`
	AnnoyanceCount  int     `json:"annoyance_count"`
	EngagementRate  float64 `json:"engagement_rate"`
	AnnoyanceRate   float64 `json:"annoyance_rate"`
	PreferenceScore float64 `json:"preference_score"`
}

// Budget caps the instances a user may have created at or after Since.
// A write is allowed only while that count is below Max.
type Budget struct {
	Since time.Time
	Max   int
}

// WriteResult is the outcome of a budgeted instance write.
type WriteResult string

// Budgeted write results. A duplicate trace wins over an exhausted budget.
const (
	WriteCreated    WriteResult = "created"
	WriteDuplicate  WriteResult = "duplicate"
	WriteOverBudget WriteResult = "over_budget"
)

// InterventionInstance is the durable record of one decision.
type InterventionInstance struct {
	InstanceID  string     `json:"instance_id"`
	UserID      string     `json:"user_id"`
	TraceID     string     `json:"trace_id"`
	Metric      string     `json:"metric"`
	Level       Level      `json:"level"`
	Surface     string     `json:"surface"`
	CatalogKey  string     `json:"catalog_key"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// InteractionEvent is one entry of the append-only interaction log.
type InteractionEvent struct {
	EventID    string    `json:"event_id"`
	InstanceID string    `json:"instance_id,omitempty"`
	UserID     string    `json:"user_id"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
}

// SurfaceEvent is an interaction event attributed to the surface of the
// instance it references.
type SurfaceEvent struct {
	InstanceID string
	Surface    string
	EventType  string
	Timestamp  time.Time
}
