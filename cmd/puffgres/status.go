package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show each applied mapping's checkpoint, backfill, and DLQ state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			eng := a.buildEngine(nil)
			statuses, err := eng.Status(ctx)
			if err != nil {
				return err
			}

			if healthErr := eng.Healthy(ctx); healthErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "HEALTH: degraded: %v\n", healthErr)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "HEALTH: ok")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MAPPING\tNAMESPACE\tCHECKPOINT LSN\tEVENTS\tBACKFILL\tPENDING DLQ")
			for _, s := range statuses {
				backfillStatus := "-"
				if s.Backfill != nil {
					backfillStatus = fmt.Sprintf("%s (%d/%d)", s.Backfill.Status, s.Backfill.ProcessedRows, s.Backfill.TotalRows)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n",
					s.Name, s.Namespace, s.CheckpointLSN, s.EventsTotal, backfillStatus, s.PendingDLQ)
			}
			return tw.Flush()
		},
	}
}
