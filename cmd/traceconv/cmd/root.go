package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/trace-pprof/internal/service"
	"github.com/trace-pprof/internal/storage"
	"github.com/trace-pprof/pkg/config"
	"github.com/trace-pprof/pkg/telemetry"
	"github.com/trace-pprof/pkg/utils"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg               *config.Config
	logger            utils.Logger
	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "traceconv",
	Short: "Convert trace samples into pprof profiles",
	Long: `traceconv turns CPU samples and heap allocations recorded in trace storage
into gzipped pprof profiles, one per process.

Traces can be imported from folded stack files, kept in a database
(sqlite, postgres or mysql) and exported to a local directory or a COS bucket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			fileLogger, err := utils.NewFileLogger(level, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
			logger = fileLogger
		} else {
			logger = utils.NewDefaultLogger(level, cmd.ErrOrStderr())
		}
		utils.SetGlobalLogger(logger)

		shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		telemetryShutdown = shutdown
		logger.Debug("Configuration: %s", cfg)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(ctx); err != nil {
			logger.Warn("Failed to flush telemetry: %v", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml or ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Convert a folded stack file into per-process CPU profiles under ./out
  ` + binName + ` convert -i ./perf.folded -o ./out

  # Import, keep the trace in the database and export it to the configured storage
  ` + binName + ` convert -i ./perf.folded --save

  # Re-export a stored trace as heap profiles
  ` + binName + ` profile --trace 7f1c... --kind heap

  # Summarize an exported profile
  ` + binName + ` inspect ./out/perf/cpu/1-4242.pb.gz`
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

// openService builds a service. With persist it connects the configured
// database and storage; otherwise profiles go to outputDir and nothing is
// stored.
func openService(ctx context.Context, persist bool, outputDir string) (*service.Service, error) {
	svc, err := service.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	if persist {
		if err := svc.Initialize(ctx); err != nil {
			svc.Close()
			return nil, err
		}
		return svc, nil
	}

	sink, err := storage.NewLocalStorage(outputDir)
	if err != nil {
		svc.Close()
		return nil, err
	}
	return svc.WithDependencies(nil, sink), nil
}

func printProfiles(cmd *cobra.Command, result *service.ExportResult) {
	out := cmd.OutOrStdout()
	for _, p := range result.Profiles {
		location := p.URL
		if location == "" {
			location = p.Key
		}
		fmt.Fprintf(out, "%-6d %-20s %8d samples  %s\n", p.PID, p.Process, p.Samples, location)
	}
}
