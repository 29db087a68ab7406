package main

import (
	"context"

	"github.com/spf13/cobra"

	app "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs <user-id>",
	Short: "Show a user's per-surface preferences and rate limit usage",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefs,
}

func init() {
	rootCmd.AddCommand(prefsCmd)
}

type prefsOutput struct {
	UserID      string                    `json:"user_id"`
	Preferences []model.SurfacePreference `json:"preferences"`
	RateUsed    int                       `json:"rate_limit_used"`
	RateLimit   int                       `json:"rate_limit_max"`
}

func runPrefs(cmd *cobra.Command, args []string) error {
	userID := args[0]
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		prefs, err := svc.GetPreferences(ctx, userID)
		if err != nil {
			return err
		}
		used, limit, err := svc.RateLimitUsage(ctx, userID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), prefsOutput{UserID: userID, Preferences: prefs, RateUsed: used, RateLimit: limit})
	})
}
