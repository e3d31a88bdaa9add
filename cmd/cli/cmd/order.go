package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ipo-callgraph/internal/service"
	apperrors "github.com/ipo-callgraph/pkg/errors"
)

var (
	orderOpts   buildFlags
	orderOutput string
)

// orderCmd represents the order command
var orderCmd = &cobra.Command{
	Use:   "order [packages...]",
	Short: "Print the processing waves of a program",
	Long: `Build the call graph of a program and print its methods wave by wave.
Methods of one wave have no edges between them and can be processed in
parallel once every earlier wave is done.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if orderOutput != "text" && orderOutput != "json" {
			return apperrors.Newf(apperrors.CodeInvalidInput, "invalid output: %q (valid: text, json)", orderOutput)
		}
		ctx := cmd.Context()
		svc, err := service.New(cfg, logger)
		if err != nil {
			return err
		}
		result, err := svc.Build(ctx, orderOpts.request(args))
		if err != nil {
			return err
		}
		return printWaves(cmd.OutOrStdout(), result.Report.Waves, orderOutput)
	},
}

func init() {
	rootCmd.AddCommand(orderCmd)
	orderOpts.register(orderCmd, false)
	orderCmd.Flags().StringVar(&orderOutput, "output", "text", "Output format: text or json")
}

func printWaves(out io.Writer, waves [][]string, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(waves)
	}
	for i, wave := range waves {
		fmt.Fprintf(out, "wave %d (%d)\n", i, len(wave))
		for _, m := range wave {
			fmt.Fprintf(out, "  %s\n", m)
		}
	}
	return nil
}
