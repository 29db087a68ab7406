package loadtest

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meigsy/shift-sub001/pkg/logger"
)

const drainPollInterval = 100 * time.Millisecond

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type counters struct {
	snapshots  atomic.Int64
	accepted   atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// Run executes a complete load run against cfg.BaseURL.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	cfg.withDefaults()
	log := logger.Named("loadtest")
	stats := &Stats{StartTime: time.Now()}
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("triggersPerUser", cfg.TriggersPerUser),
		logger.Int("workers", cfg.Workers),
	)

	if err := checkHealth(ctx, c); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	baseline, err := processed(ctx, c)
	if err != nil {
		return stats, err
	}

	jobs := generateJobs(&cfg, time.Now())
	var cnt counters
	if err := submit(ctx, c, &cfg, jobs, &cnt); err != nil {
		return stats, fmt.Errorf("submission failed: %w", err)
	}
	stats.SnapshotsWritten = cnt.snapshots.Load()
	stats.TriggersAccepted = cnt.accepted.Load()
	stats.TriggersDuplicate = cnt.duplicates.Load()
	stats.TriggersFailed = cnt.failed.Load()

	if err := waitDrained(ctx, c, baseline+stats.TriggersAccepted, cfg.DrainTimeout); err != nil {
		return stats, err
	}

	if err := verify(ctx, c, &cfg, jobs, stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "load run completed",
		logger.Int64("snapshots", stats.SnapshotsWritten),
		logger.Int64("accepted", stats.TriggersAccepted),
		logger.Int64("duplicate", stats.TriggersDuplicate),
		logger.Int64("failed", stats.TriggersFailed),
		logger.Int("instances", stats.InstancesCreated),
		logger.Int("usersAtLimit", stats.UsersAtLimit),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func checkHealth(ctx context.Context, c *client) error {
	code, err := c.getJSON(ctx, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("health check returned status %d", code)
	}
	return nil
}

// submit writes each job's snapshot before its trigger. Workers run jobs
// concurrently; a failed request is counted, never fatal.
func submit(ctx context.Context, c *client, cfg *Config, jobs []job, cnt *counters) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			code, err := c.postJSON(gctx, "/snapshots", j.snapshot, nil)
			if err != nil || code != http.StatusCreated {
				cnt.failed.Add(1)
				return gctx.Err()
			}
			cnt.snapshots.Add(1)

			sends := 1
			if j.duplicate {
				sends = 2
			}
			for range sends {
				submitTrigger(gctx, c, j.trigger, cnt)
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}

func submitTrigger(ctx context.Context, c *client, t triggerBody, cnt *counters) {
	var ack ackResponse
	code, err := c.postJSON(ctx, "/triggers", t, &ack)
	switch {
	case err != nil:
		cnt.failed.Add(1)
	case code == http.StatusAccepted:
		cnt.accepted.Add(1)
	case code == http.StatusOK && ack.Duplicate:
		cnt.duplicates.Add(1)
	default:
		cnt.failed.Add(1)
	}
}

func processed(ctx context.Context, c *client) (int64, error) {
	var stats map[string]any
	if _, err := c.getJSON(ctx, "/stats", &stats); err != nil {
		return 0, fmt.Errorf("failed to read stats: %w", err)
	}
	n, _ := stats["processed"].(float64)
	return int64(n), nil
}

// waitDrained polls /stats until the workers processed target triggers.
func waitDrained(ctx context.Context, c *client, target int64, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		n, err := processed(ctx, c)
		if err == nil && n >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d processed triggers: %w", target, ctx.Err())
		case <-ticker.C:
		}
	}
}
