// Command shiftctl administers a shift database: it syncs the catalog from
// YAML, writes snapshots, runs decision cycles, inspects instances and
// preferences, and load tests a running server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	app "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/config"
	"github.com/meigsy/shift-sub001/pkg/logger"
)

var (
	dbPath  string
	verbose bool
	timeout time.Duration
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "shiftctl",
	Short: "Administer the shift intervention engine",
	Long: `shiftctl works directly on the shift database configured by SHIFT_* env
vars (or SHIFT_CONFIG), or on the file given with --db.

Examples:
  shiftctl catalog sync catalog.yaml
  shiftctl snapshot put --user u1 --ts 2026-03-01T12:00:00Z --score stress=0.86 --trace t1
  shiftctl trigger --user u1 --ts 2026-03-01T12:00:00Z --trace t1
  shiftctl instances list --user u1
  shiftctl instances mark <instance-id> sent`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.InitWithWriter(cmd.ErrOrStderr(), false); err != nil {
			return err
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		return logger.SetLevelString(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: config db_path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Operation timeout")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// withService opens the configured database, runs fn and closes it again.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	cfg.WorkerCount = 1

	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	svc := app.New(append(opts, app.WithLogger(logger.Get()))...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	defer func() {
		if err := svc.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.Get().Error(ctx, "closing service", logger.Error(err))
		}
	}()
	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTS accepts RFC3339; an empty value means now.
func parseTS(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q; must be RFC3339", v)
	}
	return ts.UTC(), nil
}
