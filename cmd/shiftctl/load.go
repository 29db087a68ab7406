package main

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/meigsy/shift-sub001/internal/loadtest"
)

var loadCfg loadtest.Config

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load test a running server over HTTP",
	Long: `Write snapshots and submit their triggers concurrently, replaying some
triggers to exercise intake dedupe, then wait for the workers to drain and
check that no trace produced two instances. Users above the rate limit
budget are reported.

The server needs a catalog covering the metric, or every cycle ends with
no candidates.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := loadtest.Run(cmd.Context(), loadCfg)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	f := loadCmd.Flags()
	f.StringVar(&loadCfg.BaseURL, "url", "http://localhost:9080", "Base URL of the service")
	f.IntVar(&loadCfg.Users, "users", loadtest.DefaultUsers, "Distinct users")
	f.IntVar(&loadCfg.TriggersPerUser, "triggers", loadtest.DefaultTriggersPerUser, "Triggers per user")
	f.IntVar(&loadCfg.Workers, "workers", runtime.NumCPU()*2, "Concurrent submitters")
	f.DurationVar(&loadCfg.Timeout, "request-timeout", loadtest.DefaultTimeout, "Per-request timeout")
	f.DurationVar(&loadCfg.DrainTimeout, "drain-timeout", loadtest.DefaultDrainTimeout, "Wait for workers to drain")
	f.IntVar(&loadCfg.MaxPerUser, "max-per-user", loadtest.DefaultMaxPerUser, "Rate limit budget of the server")
	f.IntVar(&loadCfg.DuplicateEvery, "duplicate-every", loadtest.DefaultDuplicateEvery, "Replay every Nth trigger; 0 disables")
	f.StringVar(&loadCfg.Metric, "metric", "stress", "Metric written into snapshots")
	f.Uint64Var(&loadCfg.Seed, "seed", 1, "Score generator seed")
}
