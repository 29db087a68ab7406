package loadtest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/meigsy/shift-sub001/internal/domain/model"
	"github.com/meigsy/shift-sub001/pkg/logger"
)

type instancesResponse struct {
	Instances []model.InterventionInstance `json:"instances"`
}

// verify checks every user's created instances: one per trace at most, each
// trace one the run submitted, and no more than MaxPerUser in total.
func verify(ctx context.Context, c *client, cfg *Config, jobs []job, stats *Stats) error {
	traces := make(map[string]map[string]struct{}, cfg.Users)
	for _, j := range jobs {
		u := j.trigger.UserID
		if traces[u] == nil {
			traces[u] = make(map[string]struct{})
		}
		traces[u][j.trigger.TraceID] = struct{}{}
	}

	for userID, sent := range traces {
		var resp instancesResponse
		path := "/instances?limit=500&user_id=" + url.QueryEscape(userID)
		if _, err := c.getJSON(ctx, path, &resp); err != nil {
			return fmt.Errorf("listing instances of %s: %w", userID, err)
		}

		seen := make(map[string]struct{}, len(resp.Instances))
		n := 0
		for _, inst := range resp.Instances {
			if _, ok := sent[inst.TraceID]; !ok {
				continue
			}
			if _, dup := seen[inst.TraceID]; dup {
				return fmt.Errorf("%w: user %s has two instances for trace %s", ErrVerification, userID, inst.TraceID)
			}
			seen[inst.TraceID] = struct{}{}
			n++
		}

		stats.InstancesCreated += n
		switch {
		case n > cfg.MaxPerUser:
			stats.UsersOverLimit++
			logger.Get().Error(ctx, "user exceeded rate limit budget",
				logger.String("user_id", userID), logger.Int("instances", n), logger.Int("max", cfg.MaxPerUser))
		case n == cfg.MaxPerUser:
			stats.UsersAtLimit++
		}
	}
	if stats.UsersOverLimit > 0 {
		return fmt.Errorf("%w: %d users over the budget of %d", ErrVerification, stats.UsersOverLimit, cfg.MaxPerUser)
	}
	return nil
}
