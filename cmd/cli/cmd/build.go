package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ipo-callgraph/internal/service"
	"github.com/ipo-callgraph/pkg/model"
)

// buildFlags are shared by the commands that run the pipeline.
type buildFlags struct {
	manifest   string
	dir        string
	tests      bool
	name       string
	rootsFirst bool
	formats    []string
	outputDir  string
	upload     bool
	persist    bool
	export     bool
}

func (f *buildFlags) register(cmd *cobra.Command, outputs bool) {
	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "", "Program manifest (YAML); packages are loaded when empty")
	cmd.Flags().StringVar(&f.dir, "dir", "", "Directory package patterns are resolved in")
	cmd.Flags().BoolVar(&f.tests, "tests", false, "Include test packages")
	cmd.Flags().StringVar(&f.name, "name", "", "Run name (defaults to the program name)")
	cmd.Flags().BoolVar(&f.rootsFirst, "roots-first", false, "Order waves callers first")
	if !outputs {
		return
	}
	cmd.Flags().StringSliceVarP(&f.formats, "format", "f", nil, "Dump formats: dot, json")
	cmd.Flags().StringVarP(&f.outputDir, "output", "o", "", "Directory to write dumps to")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "Upload dumps to the configured storage")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "Save the run to the configured database")
	cmd.Flags().BoolVar(&f.export, "export", false, "Export the graph to Neo4j")
}

func (f *buildFlags) request(args []string) service.Request {
	return service.Request{
		Name: f.name,
		Source: service.Source{
			Manifest: f.manifest,
			Packages: args,
			Dir:      f.dir,
			Tests:    f.tests,
		},
		RootsFirst: f.rootsFirst,
		Formats:    f.formats,
		OutputDir:  f.outputDir,
		Upload:     f.upload,
		Persist:    f.persist,
		Export:     f.export,
	}
}

// newService creates a service with the backends req needs.
func newService(ctx context.Context, req service.Request) (*service.Service, error) {
	svc, err := service.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if req.Persist {
		if err := svc.InitDatabase(); err != nil {
			return nil, err
		}
	}
	if req.Upload {
		if err := svc.InitStorage(); err != nil {
			svc.Close(ctx)
			return nil, err
		}
	}
	if req.Export {
		if err := svc.InitExporter(ctx); err != nil {
			svc.Close(ctx)
			return nil, err
		}
	}
	return svc, nil
}

var buildOpts buildFlags

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build [packages...]",
	Short: "Build, break cycles in and order a call graph",
	Long: `Build the call graph of a program, eliminate its cycles and order it into
waves. The run summary is printed; dumps, persistence, upload and export
are enabled with flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := buildOpts.request(args)
		req.Persist = req.Persist || cfg.Database.Enabled
		return runBuild(cmd.Context(), cmd.OutOrStdout(), req)
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildOpts.register(buildCmd, true)

	binName := BinName()
	buildCmd.Example = `  # Dump a manifest program as DOT and JSON
  ` + binName + ` build -m ./program.yaml -f dot,json -o ./out

  # Build the packages of a module and save the run
  ` + binName + ` build --dir ./myservice --persist ./...`
}

func runBuild(ctx context.Context, out io.Writer, req service.Request) error {
	svc, err := newService(ctx, req)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	result, err := svc.Build(ctx, req)
	if result != nil {
		printReport(out, result.Report)
	}
	return err
}

func printReport(out io.Writer, r *model.BuildReport) {
	fmt.Fprintf(out, "Run:      %s", r.Name)
	if r.ID != 0 {
		fmt.Fprintf(out, " (#%d)", r.ID)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Source:   %s %s\n", r.Source, r.Target)
	fmt.Fprintf(out, "Status:   %s\n", r.Status)
	if r.StatusInfo != "" {
		fmt.Fprintf(out, "Info:     %s\n", r.StatusInfo)
	}
	if r.Status != model.BuildStatusCompleted {
		return
	}

	s := r.Stats
	fmt.Fprintf(out, "Methods:  %d\n", s.Nodes)
	fmt.Fprintf(out, "Edges:    %d calls, %d field reads\n", s.CallEdges, s.FieldReadEdges)
	fmt.Fprintf(out, "Removed:  %d calls, %d field reads in %d rounds\n", s.RemovedCallEdges, s.RemovedFieldReadEdges, s.Rounds)
	fmt.Fprintf(out, "Sites:    %d single, %d multi-caller candidates\n", s.SingleCallSites, s.MultiCallSites)
	fmt.Fprintf(out, "Waves:    %d\n", len(r.Waves))
	fmt.Fprintf(out, "Duration: %s\n", r.Duration)
	for _, e := range r.Removed {
		fmt.Fprintf(out, "  - %s -> %s (%s)\n", e.From, e.To, e.Kind)
	}
	for _, a := range r.Artifacts {
		fmt.Fprintf(out, "  %s: %s\n", strings.ToUpper(a.Format), a.Location)
	}
}
