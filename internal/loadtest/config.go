// Package loadtest drives a running shift server over HTTP: it writes
// snapshots, submits their triggers concurrently, waits for the workers to
// drain, and checks the per-user rate limit held.
package loadtest

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultUsers           = 50
	DefaultTriggersPerUser = 5
	DefaultTimeout         = 30 * time.Second
	DefaultDrainTimeout    = time.Minute
	DefaultMaxPerUser      = 3
	DefaultDuplicateEvery  = 4
)

// ErrVerification reports a run whose results break a service guarantee.
var ErrVerification = errors.New("verification failed")

// Config holds configuration for a load run.
type Config struct {
	BaseURL         string        // Base URL of the service
	Users           int           // Distinct users to simulate
	TriggersPerUser int           // Snapshot+trigger pairs per user
	Workers         int           // Concurrent HTTP submitters
	Timeout         time.Duration // Per-request timeout
	DrainTimeout    time.Duration // How long to wait for the queue to drain
	MaxPerUser      int           // Rate limit budget the server enforces
	DuplicateEvery  int           // Resubmit every Nth trigger; 0 disables
	Metric          string        // Metric written into snapshots
	Seed            uint64        // Score generator seed
}

// Stats holds run statistics.
type Stats struct {
	SnapshotsWritten  int64
	TriggersAccepted  int64
	TriggersDuplicate int64
	TriggersFailed    int64
	InstancesCreated  int
	UsersAtLimit      int
	UsersOverLimit    int
	StartTime         time.Time
	Duration          time.Duration
}

func (c *Config) withDefaults() {
	if c.Users <= 0 {
		c.Users = DefaultUsers
	}
	if c.TriggersPerUser <= 0 {
		c.TriggersPerUser = DefaultTriggersPerUser
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.MaxPerUser <= 0 {
		c.MaxPerUser = DefaultMaxPerUser
	}
	if c.Metric == "" {
		c.Metric = "stress"
	}
}
