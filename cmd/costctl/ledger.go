package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/observability"
	"github.com/smallbiznis/cloudcost/internal/runledger"
	"github.com/smallbiznis/cloudcost/pkg/db/pagination"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// withLedger starts just enough of the application to read the ledger.
func withLedger(ctx context.Context, fn func(*runledger.Ledger) error) error {
	var ledger *runledger.Ledger
	app := fx.New(
		config.Module,
		observability.Module,
		runledger.Module,
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
		fx.Populate(&ledger),
	)
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()
	if !ledger.Enabled() {
		return runledger.ErrDisabled
	}
	return fn(ledger)
}

func runsCmd() *cobra.Command {
	var (
		job   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent job runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l *runledger.Ledger) error {
				runs, err := l.Runs(cmd.Context(), job, limit)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tJOB\tSTATUS\tEXIT\tSTARTED\tFINISHED")
				for _, r := range runs {
					finished := "-"
					if r.FinishedAt != nil {
						finished = r.FinishedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
						r.ID, r.Job, r.Status, r.ExitCode, r.StartedAt.UTC().Format(time.RFC3339), finished)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "Only runs of this job")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs")
	return cmd
}

func failedWritesCmd() *cobra.Command {
	var (
		runID    int64
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "failed-writes",
		Short: "Print the documents a run could not commit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd.Context(), func(l *runledger.Ledger) error {
				if runID == 0 {
					latest, err := l.Runs(cmd.Context(), "", 1)
					if err != nil {
						return err
					}
					if len(latest) == 0 {
						return fmt.Errorf("no runs recorded")
					}
					runID = latest[0].ID
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "COLLECTION\tDOCUMENT\tSCOPE\tCLASS")
				page := pagination.Pagination{PageSize: pageSize}
				for {
					rows, info, err := l.FailedWrites(cmd.Context(), runID, page)
					if err != nil {
						return err
					}
					for _, f := range rows {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Collection, f.DocumentID, f.ScopeID, f.ErrorClass)
					}
					if info == nil || !info.HasMore {
						break
					}
					page.PageToken = info.NextPageToken
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().Int64Var(&runID, "run", 0, "Run id (defaults to the latest run)")
	cmd.Flags().IntVar(&pageSize, "page-size", pagination.DefaultPageSize, "Rows fetched per query")
	return cmd
}
