package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ipo-callgraph/internal/watcher"
)

var (
	watchOpts     buildFlags
	watchDebounce time.Duration
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [packages...]",
	Short: "Rebuild the call graph whenever the program changes",
	Long: `Watch a manifest file, or the Go sources below --dir, and rebuild the call
graph after every change. Changes are debounced so a burst of saves causes
one rebuild. Failed rebuilds are logged and watching continues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := watchOpts.request(args)
		req.Persist = req.Persist || cfg.Database.Enabled
		svc, err := newService(ctx, req)
		if err != nil {
			return err
		}
		defer svc.Close(context.Background())

		rebuild := func(ctx context.Context, _ []string) error {
			result, err := svc.Build(ctx, req)
			if result != nil {
				printReport(cmd.OutOrStdout(), result.Report)
			}
			return err
		}

		target := req.Source.Manifest
		if target == "" {
			target = req.Source.Dir
			if target == "" {
				target = "."
			}
		}
		w, err := watcher.New(target, rebuild, watcher.WithDebounce(watchDebounce), watcher.WithLogger(logger))
		if err != nil {
			return err
		}

		if err := rebuild(ctx, nil); err != nil {
			logger.Warn("Initial build failed: %v", err)
		}
		return w.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchOpts.register(watchCmd, true)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "Delay between the last change and the rebuild")
}
