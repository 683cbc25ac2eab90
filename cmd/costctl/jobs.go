package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/jobs"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job the way its binary does and exit with its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := jobs.Lookup(args[0])
			if err != nil {
				return err
			}
			os.Exit(batch.Execute(cmd.Context(), entry.Name, entry.Module))
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the registered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tBINARY")
			for _, e := range jobs.All() {
				fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Binary)
			}
			return w.Flush()
		},
	}
}
