package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	app "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/catalogfile"
)

var catalogListYAML bool

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the intervention catalog",
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync <file>",
	Short: "Replace the catalog with the entries of a YAML file",
	Long: `Upsert every entry of the file and disable catalog entries the file
no longer lists. Entries are never deleted, so instances keep resolving.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogSync,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogSyncCmd, catalogListCmd)
	catalogListCmd.Flags().BoolVar(&catalogListYAML, "yaml", false, "Print as a catalog file")
}

func runCatalogSync(cmd *cobra.Command, args []string) error {
	entries, err := catalogfile.Load(args[0])
	if err != nil {
		return err
	}
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		res, err := svc.SyncCatalog(ctx, entries)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "upserted %d, disabled %d\n", res.Upserted, res.Disabled)
		return err
	})
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		entries, err := svc.ListCatalog(ctx)
		if err != nil {
			return err
		}
		if catalogListYAML {
			return catalogfile.Write(cmd.OutOrStdout(), entries)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tMETRIC\tLEVEL\tSURFACE\tENABLED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", e.Key, e.Metric, e.Level, e.Surface, e.Enabled)
		}
		return tw.Flush()
	})
}
