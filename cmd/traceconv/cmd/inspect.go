package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/pprof/profile"
	"github.com/spf13/cobra"

	"github.com/trace-pprof/pkg/compression"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <profile>...",
	Short: "Summarize pprof profiles",
	Long: `Print sample types, totals and mappings of pprof profiles. Gzip, zstd and
uncompressed files are accepted.`,
	Args: cobra.MinimumNArgs(1),
	// Inspect reads local files only.
	PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := inspectProfile(cmd.OutOrStdout(), path, data); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func inspectProfile(w io.Writer, path string, data []byte) error {
	raw, err := compression.AutoDecompress(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	p, err := profile.ParseData(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(w, "%s (%s, %s uncompressed)\n", path, humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(len(raw))))

	totals := make([]int64, len(p.SampleType))
	for _, s := range p.Sample {
		for i := range totals {
			if i < len(s.Value) {
				totals[i] += s.Value[i]
			}
		}
	}
	fmt.Fprintf(w, "  samples:   %s\n", humanize.Comma(int64(len(p.Sample))))
	for i, st := range p.SampleType {
		total := humanize.Comma(totals[i])
		if st.Unit == "bytes" {
			total = humanize.Bytes(uint64(totals[i]))
		}
		fmt.Fprintf(w, "  %-10s %s (%s)\n", st.Type+":", total, st.Unit)
	}
	fmt.Fprintf(w, "  locations: %d  functions: %d\n", len(p.Location), len(p.Function))

	for i, m := range p.Mapping {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		var debug []string
		if m.HasFunctions {
			debug = append(debug, "functions")
		}
		if m.HasFilenames {
			debug = append(debug, "filenames")
		}
		if m.HasLineNumbers {
			debug = append(debug, "lines")
		}
		if m.HasInlineFrames {
			debug = append(debug, "inline")
		}
		fmt.Fprintf(w, "  %s %#x-%#x %s", marker, m.Start, m.Limit, m.File)
		if m.BuildID != "" {
			fmt.Fprintf(w, " [%s]", m.BuildID)
		}
		if len(debug) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(debug, ","))
		}
		fmt.Fprintln(w)
	}
	return nil
}
