package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nucleus/fluxion/internal/reconcile"
)

func reconcileCmd() *cobra.Command {
	var (
		locations []string
		days      int
		recover   bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare source and warehouse counts and report gaps",
		Long: `Reconcile counts rows per completed day at each source and in the warehouse
over the last --days days. Under-covered days open gaps; with --recover the
resulting recovery requests are run through the orchestrator and each
recovered day is rechecked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			locs, err := a.sources.Select(locations)
			if err != nil {
				return err
			}
			report, err := a.reconcile.ReconcileDays(ctx, locs, days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if err := printGaps(out, report); err != nil {
				return err
			}

			if !recover {
				if n := a.queue.Len(); n > 0 {
					fmt.Fprintf(out, "\n%d recovery request(s) pending; rerun with --recover to backfill\n", n)
				}
				return nil
			}
			if a.queue.Len() == 0 {
				return nil
			}

			fmt.Fprintf(out, "\nrecovering %d day(s)\n", a.queue.Len())
			recovery := a.orch.RunQueue(ctx, a.queue)
			if err := recovery.Print(out); err != nil {
				return err
			}
			if !recovery.OK() {
				return errIncomplete
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&locations, "location", nil, "location id, repeatable (default all active)")
	cmd.Flags().IntVar(&days, "days", 0, "completed days to check (default $FLUXION_RECONCILE_DAYS)")
	cmd.Flags().BoolVar(&recover, "recover", false, "run the recovery requests through the orchestrator")

	return cmd
}

func printGaps(w io.Writer, report reconcile.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "checked %d day(s): %d gap(s), %d over-covered, %d probe failure(s), %d resolved\n",
		len(report.Outcomes), len(report.Gaps()), len(report.Over()), len(report.Failures()), report.Resolved())

	rows := append(append(report.Gaps(), report.Over()...), report.Failures()...)
	if len(rows) == 0 {
		return tw.Flush()
	}
	fmt.Fprintln(tw, "\nLOCATION\tKIND\tDAY\tSOURCE\tWAREHOUSE\tSTATUS")
	for _, o := range rows {
		status := string(o.Class)
		if o.Err != nil {
			status = "error: " + o.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", o.LocationID, o.Kind, o.Day, o.SourceCount, o.WarehouseCount, status)
	}
	return tw.Flush()
}
