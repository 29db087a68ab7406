package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	app "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
)

var (
	snapshotUser   string
	snapshotTS     string
	snapshotTrace  string
	snapshotScores []string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write state snapshots",
}

var snapshotPutCmd = &cobra.Command{
	Use:   "put",
	Short: "Write one immutable state snapshot",
	Args:  cobra.NoArgs,
	RunE:  runSnapshotPut,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotPutCmd)
	snapshotPutCmd.Flags().StringVar(&snapshotUser, "user", "", "User id")
	snapshotPutCmd.Flags().StringVar(&snapshotTS, "ts", "", "Snapshot timestamp, RFC3339 (default: now)")
	snapshotPutCmd.Flags().StringVar(&snapshotTrace, "trace", "", "Trace id")
	snapshotPutCmd.Flags().StringSliceVar(&snapshotScores, "score", nil, "Metric score as metric=value; repeatable")
	_ = snapshotPutCmd.MarkFlagRequired("user")
}

func parseScores(raw []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(raw))
	for _, kv := range raw {
		name, val, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid score %q; want metric=value", kv)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score %q: %w", kv, err)
		}
		scores[strings.TrimSpace(name)] = f
	}
	return scores, nil
}

func runSnapshotPut(cmd *cobra.Command, _ []string) error {
	ts, err := parseTS(snapshotTS)
	if err != nil {
		return err
	}
	scores, err := parseScores(snapshotScores)
	if err != nil {
		return err
	}
	snap := model.StateSnapshot{UserID: snapshotUser, Timestamp: ts, MetricScores: scores, TraceID: snapshotTrace}
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		if err := svc.PutSnapshot(ctx, snap); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), snap)
	})
}
