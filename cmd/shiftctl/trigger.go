package main

import (
	"context"

	"github.com/spf13/cobra"

	app "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
)

var (
	triggerUser  string
	triggerTS    string
	triggerTrace string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Run one decision cycle synchronously and print the decision",
	Long: `Evaluate the snapshot written for (--user, --ts) the same way a worker
does. Re-running the same --trace never creates a second instance.`,
	Args: cobra.NoArgs,
	RunE: runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.Flags().StringVar(&triggerUser, "user", "", "User id")
	triggerCmd.Flags().StringVar(&triggerTS, "ts", "", "Snapshot timestamp, RFC3339")
	triggerCmd.Flags().StringVar(&triggerTrace, "trace", "", "Trace id")
	_ = triggerCmd.MarkFlagRequired("user")
	_ = triggerCmd.MarkFlagRequired("ts")
	_ = triggerCmd.MarkFlagRequired("trace")
}

func runTrigger(cmd *cobra.Command, _ []string) error {
	ts, err := parseTS(triggerTS)
	if err != nil {
		return err
	}
	t := model.Trigger{UserID: triggerUser, Timestamp: ts, TraceID: triggerTrace}
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		d, err := svc.EvaluateNow(ctx, t)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), d)
	})
}
