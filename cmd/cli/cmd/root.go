package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ipo-callgraph/pkg/config"
	"github.com/ipo-callgraph/pkg/pprof"
	"github.com/ipo-callgraph/pkg/telemetry"
	"github.com/ipo-callgraph/pkg/utils"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Pprof flags
	pprofEnabled  bool
	pprofMode     string
	pprofDir      string
	pprofProfiles string
	pprofAddr     string
	pprofCPURate  int

	cfg      *config.Config
	logger   utils.Logger
	profiler *pprof.Profiler
	shutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ipo-callgraph",
	Short: "Build acyclic call graphs for bottom-up interprocedural optimization",
	Long: `ipo-callgraph builds the call graph of a program, removes the edges
that close cycles, and orders the methods into waves that can be optimized
in parallel, callees before callers.

Programs are read from a YAML manifest or loaded from Go packages. Runs can
be persisted to a database, dumped as DOT or JSON, uploaded to object
storage and exported to Neo4j.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		level := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = utils.LevelDebug
		}
		logger, err = newLogger(level, cfg.Log.OutputPath)
		if err != nil {
			return err
		}
		utils.SetGlobalLogger(logger)

		shutdown, err = telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("Tracing disabled: %v", err)
		}

		if pprofEnabled {
			pc, err := buildPprofConfig()
			if err != nil {
				return err
			}
			if profiler, err = pprof.Start(pc, logger); err != nil {
				return err
			}
			logger.Info("pprof collection started (mode: %s)", pc.Mode)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if profiler != nil {
			if err := profiler.Stop(ctx); err != nil {
				logger.Warn("Failed to stop pprof collection: %v", err)
			}
			for _, f := range profiler.Files() {
				logger.Info("pprof data saved to: %s", f)
			}
		}
		if shutdown != nil {
			if err := shutdown(ctx); err != nil {
				logger.Warn("Failed to flush traces: %v", err)
			}
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.PersistentFlags().BoolVar(&pprofEnabled, "pprof", false, "Profile this run")
	rootCmd.PersistentFlags().StringVar(&pprofMode, "pprof-mode", "file", "Pprof mode: file or http")
	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "./pprof", "Output directory for pprof data")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap", "Comma-separated profile types: cpu,heap,goroutine,block,mutex,allocs")
	rootCmd.PersistentFlags().StringVar(&pprofAddr, "pprof-addr", "localhost:6060", "HTTP listen address for http mode")
	rootCmd.PersistentFlags().IntVar(&pprofCPURate, "pprof-cpu-rate", 0, "CPU profiling rate in Hz")

	binName := BinName()
	rootCmd.Example = `  # Build a manifest program and write its graph as DOT
  ` + binName + ` build -m ./program.yaml -f dot -o ./out

  # Build the Go packages of a module and print the waves
  ` + binName + ` order --dir ./myservice ./...

  # Rebuild on every source change
  ` + binName + ` watch --dir ./myservice ./...

  # List stored runs
  ` + binName + ` report list -c ./ipo.yaml`
}

func newLogger(level utils.LogLevel, path string) (utils.Logger, error) {
	if path == "" {
		return utils.NewDefaultLogger(level, os.Stderr), nil
	}
	return utils.NewFileLogger(level, path)
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}

func buildPprofConfig() (*pprof.Config, error) {
	profiles, err := pprof.ParseProfileTypes(pprofProfiles)
	if err != nil {
		return nil, err
	}
	pc := &pprof.Config{
		Mode:     pprof.Mode(pprofMode),
		Profiles: profiles,
		Dir:      pprofDir,
		Addr:     pprofAddr,
		CPURate:  pprofCPURate,
	}
	return pc, pc.Validate()
}
