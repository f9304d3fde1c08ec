package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/trace-pprof/internal/parser/collapsed"
)

var (
	convertInput       string
	convertOutput      string
	convertName        string
	convertCompression string
	convertSave        bool
	convertStrict      bool
	convertSwapper     bool
	convertMaxSamples  int64
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a folded stack file into CPU profiles",
	Long: `Import folded stacks ("comm-pid/tid;root;...;leaf count" per line) and
export one CPU profile per process.

Without --save the profiles are written under the output directory and the
trace is discarded. With --save the trace is stored in the configured
database and the profiles go to the configured storage.`,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVarP(&convertInput, "input", "i", "", "Folded stack file (required)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Output directory (default: export.output_dir)")
	convertCmd.Flags().StringVarP(&convertName, "name", "n", "", "Trace name (default: input file name)")
	convertCmd.Flags().StringVar(&convertCompression, "compression", "", "Profile compression: gzip, zstd or none (default: export.compression)")
	convertCmd.Flags().BoolVar(&convertSave, "save", false, "Store the trace in the configured database")
	convertCmd.Flags().BoolVar(&convertStrict, "strict", false, "Fail on the first malformed line")
	convertCmd.Flags().BoolVar(&convertSwapper, "include-swapper", false, "Keep kernel idle (swapper) stacks")
	convertCmd.Flags().Int64Var(&convertMaxSamples, "max-samples-per-line", collapsed.DefaultMaxSamplesPerLine, "Cap on samples expanded from one line")
	convertCmd.MarkFlagRequired("input")
}

func runConvert(cmd *cobra.Command, args []string) error {
	f, err := os.Open(convertInput)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	name := convertName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(convertInput), filepath.Ext(convertInput))
	}
	if convertCompression != "" {
		cfg.Export.Compression = convertCompression
	}
	outputDir := convertOutput
	if outputDir == "" {
		outputDir = cfg.Export.OutputDir
	}

	svc, err := openService(cmd.Context(), convertSave, outputDir)
	if err != nil {
		return err
	}
	defer svc.Close()

	opts := collapsed.DefaultOptions()
	opts.StrictMode = convertStrict
	opts.IncludeSwapper = convertSwapper
	opts.MaxSamplesPerLine = convertMaxSamples
	opts.ProcessName = name

	logger.Info("Converting %s", convertInput)
	result, err := svc.ConvertCollapsed(cmd.Context(), f, name, opts)
	if err != nil {
		return err
	}

	var written uint64
	for _, p := range result.Export.Profiles {
		written += uint64(p.Size)
	}
	logger.Info("Read %d lines: %d samples, %d skipped lines, %d samples over the per-line cap",
		result.Import.Lines, result.Import.Samples, result.Import.Skipped, result.Import.Truncated)
	logger.Info("Wrote %d profiles (%s) for trace %s",
		len(result.Export.Profiles), humanize.Bytes(written), result.TraceID)

	printProfiles(cmd, result.Export)
	return nil
}
