package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trace-pprof/internal/exporter"
	"github.com/trace-pprof/internal/service"
	"github.com/trace-pprof/internal/tracestore"
)

var (
	profileTrace string
	profileKind  string
	profileUPIDs []uint
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Export a stored trace as pprof profiles",
	Long: `Load a trace from the configured database and write one profile per process
to the configured storage.

Kinds:
  - cpu : one sample per CPU sample, valued samples/count
  - heap: one sample per allocation, valued alloc_objects/count and alloc_space/bytes`,
	RunE: runProfile,
}

func init() {
	rootCmd.AddCommand(profileCmd)

	profileCmd.Flags().StringVarP(&profileTrace, "trace", "t", "", "Trace id (required)")
	profileCmd.Flags().StringVarP(&profileKind, "kind", "k", string(exporter.KindCPU), "Profile kind: cpu or heap")
	profileCmd.Flags().UintSliceVar(&profileUPIDs, "upid", nil, "Only export these processes")
	profileCmd.MarkFlagRequired("trace")
}

func runProfile(cmd *cobra.Command, args []string) error {
	kind, err := exporter.ParseKind(profileKind)
	if err != nil {
		return err
	}

	svc, err := openService(cmd.Context(), true, "")
	if err != nil {
		return err
	}
	defer svc.Close()

	upids := make([]tracestore.UPID, 0, len(profileUPIDs))
	for _, u := range profileUPIDs {
		upids = append(upids, tracestore.UPID(u))
	}

	result, err := svc.ExportTrace(cmd.Context(), service.ExportRequest{
		TraceID: profileTrace,
		Kind:    kind,
		UPIDs:   upids,
	})
	if err != nil {
		return err
	}

	printProfiles(cmd, result)
	return nil
}
