package loadtest

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

type snapshotBody struct {
	UserID       string             `json:"user_id"`
	Timestamp    string             `json:"timestamp"`
	MetricScores map[string]float64 `json:"metric_scores"`
	TraceID      string             `json:"trace_id"`
}

type triggerBody struct {
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
}

// job is one snapshot and the trigger pointing at it.
type job struct {
	snapshot  snapshotBody
	trigger   triggerBody
	duplicate bool
}

// generateJobs builds Users*TriggersPerUser jobs. Snapshot timestamps are
// spaced a second apart per user so none collide.
func generateJobs(cfg *Config, base time.Time) []job {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	jobs := make([]job, 0, cfg.Users*cfg.TriggersPerUser)
	n := 0
	for u := 0; u < cfg.Users; u++ {
		userID := fmt.Sprintf("load-user-%04d", u)
		for i := 0; i < cfg.TriggersPerUser; i++ {
			ts := base.Add(time.Duration(i) * time.Second).UTC().Format(time.RFC3339Nano)
			traceID := uuid.NewString()
			n++
			jobs = append(jobs, job{
				snapshot: snapshotBody{
					UserID:       userID,
					Timestamp:    ts,
					MetricScores: map[string]float64{cfg.Metric: rng.Float64()},
					TraceID:      traceID,
				},
				trigger:   triggerBody{UserID: userID, Timestamp: ts, TraceID: traceID},
				duplicate: cfg.DuplicateEvery > 0 && n%cfg.DuplicateEvery == 0,
			})
		}
	}
	return jobs
}
