package cmd

import (
	"github.com/spf13/cobra"
)

var (
	exportOpts    buildFlags
	exportReplace bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export [packages...]",
	Short: "Build a call graph and export it to Neo4j",
	Long: `Build the call graph of a program and export its methods, edges, removed
edges and waves to the Neo4j database of the config file. Methods are
merged by graph name and reference, so repeated exports update in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := exportOpts.request(args)
		req.Export = true
		req.ReplaceExport = exportReplace
		return runBuild(cmd.Context(), cmd.OutOrStdout(), req)
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportOpts.register(exportCmd, false)
	exportCmd.Flags().BoolVar(&exportReplace, "replace", false, "Delete the previously exported graph of the same name first")
}
