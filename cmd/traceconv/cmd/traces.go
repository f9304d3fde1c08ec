package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var tracesLimit int

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Manage stored traces",
}

var tracesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored traces, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context(), true, "")
		if err != nil {
			return err
		}
		defer svc.Close()

		traces, err := svc.Traces().ListTraces(cmd.Context(), tracesLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROCESSES\tCPU SAMPLES\tALLOCATIONS\tCREATED")
		for _, t := range traces {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				t.UUID, t.Name, t.Processes,
				humanize.Comma(int64(t.PerfSamples)), humanize.Comma(int64(t.Allocations)),
				humanize.Time(t.CreatedAt))
		}
		return w.Flush()
	},
}

var tracesDeleteCmd = &cobra.Command{
	Use:   "delete <trace-id>...",
	Short: "Delete stored traces",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openService(cmd.Context(), true, "")
		if err != nil {
			return err
		}
		defer svc.Close()

		for _, id := range args {
			if err := svc.Traces().DeleteTrace(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", id, err)
			}
			logger.Info("Deleted trace %s", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tracesCmd)
	tracesCmd.AddCommand(tracesListCmd, tracesDeleteCmd)

	tracesListCmd.Flags().IntVarP(&tracesLimit, "limit", "l", 20, "Maximum traces to list (0 for all)")
}
