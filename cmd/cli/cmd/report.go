package cmd

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ipo-callgraph/internal/repository"
	"github.com/ipo-callgraph/internal/service"
	apperrors "github.com/ipo-callgraph/pkg/errors"
)

var (
	reportSQLite string
	reportLimit  int
	reportOutput string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Query stored build runs",
	Long: `Query the runs saved with --persist. Listing commands read the database of
the config file, or a SQLite file opened read-only with --sqlite.`,
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(cmd.Context(), func(r repository.ReportReader) error {
			runs, err := r.ListRuns(cmd.Context(), reportLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tMETHODS\tREMOVED\tSTARTED")
			for _, run := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
					run.ID, run.Name, run.Status, run.Nodes, run.RemovedEdges, run.StartedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		})
	},
}

var reportEdgesCmd = &cobra.Command{
	Use:   "edges <run-id>",
	Short: "Print the edges removed in a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return withReader(cmd.Context(), func(r repository.ReportReader) error {
			edges, err := r.RemovedEdges(cmd.Context(), id)
			if err != nil {
				return err
			}
			for _, e := range edges {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s)\n", e.From, e.To, e.Kind)
			}
			return nil
		})
	},
}

var reportWavesCmd = &cobra.Command{
	Use:   "waves <run-id>",
	Short: "Print the waves of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		return withReader(cmd.Context(), func(r repository.ReportReader) error {
			waves, err := r.Waves(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printWaves(cmd.OutOrStdout(), waves, reportOutput)
		})
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <run-id|latest>",
	Short: "Print a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := service.New(cfg, logger)
		if err != nil {
			return err
		}
		if err := svc.InitDatabase(); err != nil {
			return err
		}
		defer svc.Close(ctx)

		if args[0] == "latest" {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return apperrors.New(apperrors.CodeInvalidInput, "\"latest\" needs --name")
			}
			report, err := svc.Builds().LatestReport(ctx, name)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		}
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		report, err := svc.Builds().GetReport(ctx, id)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportListCmd, reportEdgesCmd, reportWavesCmd, reportShowCmd)

	reportCmd.PersistentFlags().StringVar(&reportSQLite, "sqlite", "", "Read runs from this SQLite file instead of the configured database")
	reportListCmd.Flags().IntVarP(&reportLimit, "limit", "n", 20, "Number of runs to list")
	reportWavesCmd.Flags().StringVar(&reportOutput, "output", "text", "Output format: text or json")
	reportShowCmd.Flags().String("name", "", "Run name for \"latest\"")
}

// withReader opens the report reader for the flags and config in effect.
func withReader(ctx context.Context, fn func(repository.ReportReader) error) error {
	reader, closeReader, err := openReader(ctx)
	if err != nil {
		return err
	}
	defer closeReader()
	return fn(reader)
}

var openReader = func(ctx context.Context) (repository.ReportReader, func(), error) {
	if reportSQLite != "" {
		reader, err := repository.OpenSQLiteReader(reportSQLite)
		if err != nil {
			return nil, nil, err
		}
		return reader, func() { reader.Close() }, nil
	}

	svc, err := service.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := svc.InitDatabase(); err != nil {
		return nil, nil, err
	}
	reader, err := svc.Reader()
	if err != nil {
		svc.Close(ctx)
		return nil, nil, err
	}
	return reader, func() { svc.Close(ctx) }, nil
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "invalid run id: %q", s)
	}
	return id, nil
}
