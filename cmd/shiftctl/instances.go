package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	app "github.com/meigsy/shift-sub001/internal/app"
	"github.com/meigsy/shift-sub001/internal/domain/model"
)

var (
	instancesUser   string
	instancesStatus string
	instancesLimit  int
	instancesJSON   bool
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Inspect and update intervention instances",
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's instances in one status, newest first",
	Args:  cobra.NoArgs,
	RunE:  runInstancesList,
}

var instancesGetCmd = &cobra.Command{
	Use:   "get <instance-id>",
	Short: "Show one instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstancesGet,
}

var instancesMarkCmd = &cobra.Command{
	Use:       "mark <instance-id> <sent|failed>",
	Short:     "Record the delivery outcome of a created instance",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(model.StatusSent), string(model.StatusFailed)},
	RunE:      runInstancesMark,
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesListCmd, instancesGetCmd, instancesMarkCmd)
	instancesListCmd.Flags().StringVar(&instancesUser, "user", "", "User id")
	instancesListCmd.Flags().StringVar(&instancesStatus, "status", string(model.StatusCreated), "Status filter")
	instancesListCmd.Flags().IntVar(&instancesLimit, "limit", 50, "Maximum rows; 0 for all")
	instancesListCmd.Flags().BoolVar(&instancesJSON, "json", false, "Print JSON")
	_ = instancesListCmd.MarkFlagRequired("user")
}

func runInstancesList(cmd *cobra.Command, _ []string) error {
	status, err := model.ParseStatus(instancesStatus)
	if err != nil {
		return err
	}
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		out, err := svc.ListInstances(ctx, instancesUser, status, instancesLimit)
		if err != nil {
			return err
		}
		if instancesJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "INSTANCE\tTRACE\tLEVEL\tSURFACE\tCATALOG KEY\tCREATED")
		for _, inst := range out {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				inst.InstanceID, inst.TraceID, inst.Level, inst.Surface, inst.CatalogKey, inst.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

func runInstancesGet(cmd *cobra.Command, args []string) error {
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		inst, err := svc.GetInstance(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), inst)
	})
}

func runInstancesMark(cmd *cobra.Command, args []string) error {
	status, err := model.ParseStatus(args[1])
	if err != nil {
		return err
	}
	if status == model.StatusCreated {
		return fmt.Errorf("status must be sent or failed")
	}
	return withService(cmd, func(ctx context.Context, svc *app.Service) error {
		inst, err := svc.UpdateInstanceStatus(ctx, args[0], status)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), inst)
	})
}
