package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/inspect"
	"github.com/logflow/sessiongen/pkg/ledger"
	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/tui"
	"github.com/logflow/sessiongen/pkg/util"
	"github.com/logflow/sessiongen/pkg/verify"
	"github.com/logflow/sessiongen/pkg/writer"
)

// Additional CLI flags
var (
	inputFile string

	// Verify flags
	verifyPreset string

	// Inspect flags
	topN       int
	jsonOutput bool

	// Graph flags
	graphOutput string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a dataset against the generation rules",
	Long: `Stream a dataset and check the header, labels, timestamp layout, year
window, per-session event counts, event spacing and session id order.

Rules come from --preset, overridden by flags. Without --preset the id
scheme is inferred from the first session and only flags are enforced.

Examples:
  sessiongen verify -i largest_dataset.csv --preset a
  sessiongen verify -i datasets/largest_dataset5.csv --preset b
  sessiongen verify -i small.csv.gz --min-events 1 --max-events 5`,
	RunE: runVerify,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize a dataset with DuckDB",
	Long: `Compute event, session, activity and variant statistics over a CSV
(optionally gzip or zstd compressed) or Parquet dataset.

Examples:
  sessiongen inspect -i largest_dataset.csv
  sessiongen inspect -i sessions.parquet --json`,
	RunE: runInspect,
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build the directly-follows graph of a dataset",
	Long: `Build the directly-follows graph of a dataset: one node per description
plus start and end, one edge per observed transition with its count and
average duration. Written as Cytoscape JSON.

Examples:
  sessiongen graph -i largest_dataset.csv -o graph.json`,
	RunE: runGraph,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded generation runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a recorded run (id prefix accepted)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a recorded run (id prefix accepted)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List available presets",
	RunE:  runPresets,
}

func init() {
	addVerifyFlags(verifyCmd)
	verifyCmd.MarkFlagRequired("input")

	inspectCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Dataset path (required)")
	inspectCmd.Flags().IntVar(&topN, "top", 10, "Number of activities and variants to show")
	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the analysis as JSON")
	inspectCmd.MarkFlagRequired("input")

	graphCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Dataset path or s3://bucket/key (required)")
	graphCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "Output JSON file (default stdout)")
	graphCmd.MarkFlagRequired("input")

	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}

// addVerifyFlags defines the verify flags on cmd.
func addVerifyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&inputFile, "input", "i", "", "Dataset path or s3://bucket/key (required)")
	f.StringVarP(&verifyPreset, "preset", "p", "", "Preset whose rules apply")
	f.Int64Var(&sessions, "sessions", 0, "Expected number of sessions")
	f.IntVar(&minEvents, "min-events", 0, "Minimum events per session")
	f.IntVar(&maxEvents, "max-events", 0, "Maximum events per session")
	f.DurationVar(&interval, "interval", 0, "Expected spacing between events")
	f.IntVar(&year, "year", 0, "Year session starts must fall in")
	f.StringVar(&idScheme, "id-scheme", "", "Expected id scheme (sequential, md5, murmur3)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	rules, err := verifyRules(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	r, closeFn, err := util.OpenInput(ctx, inputFile, cfgManager.Get().S3.Options())
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := verify.Verify(ctx, bufio.NewReaderSize(r, 1<<20), rules)
	if err != nil {
		return err
	}
	tui.PrintVerifyReport(os.Stdout, inputFile, report)
	if !report.OK() {
		return lferrors.New(lferrors.CodeValidationFailed, "dataset failed verification").
			WithContext("violations", report.TotalViolations)
	}
	return nil
}

// verifyRules builds rules from --preset and explicitly set flags.
func verifyRules(cmd *cobra.Command) (verify.Rules, error) {
	rules := verify.Rules{MinEvents: 1}
	if verifyPreset != "" {
		cfg, err := cfgManager.Preset(verifyPreset)
		if err != nil {
			return rules, err
		}
		if rules, err = verify.RulesFor(cfg); err != nil {
			return rules, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("sessions") {
		rules.Sessions = sessions
	}
	if flags.Changed("min-events") {
		rules.MinEvents = minEvents
	}
	if flags.Changed("max-events") {
		rules.MaxEvents = maxEvents
	}
	if flags.Changed("interval") {
		rules.Interval = interval
	}
	if flags.Changed("year") {
		rules.Year = year
	}
	if flags.Changed("id-scheme") {
		ids, err := sessiongen.ParseIDScheme(idScheme)
		if err != nil {
			return rules, lferrors.Invalid("id_scheme", idScheme, err.Error())
		}
		rules.IDs = ids
	}
	return rules, nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	in, err := inspect.New()
	if err != nil {
		return err
	}
	defer in.Close()

	ctx, cancel := signalContext()
	defer cancel()

	analysis, err := in.WithTopN(topN).Analyze(ctx, inputFile)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}
	tui.PrintAnalysis(os.Stdout, analysis)
	return nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	g, err := buildGraph(ctx, inputFile)
	if err != nil {
		return err
	}

	if graphOutput == "" {
		return g.WriteJSON(os.Stdout)
	}

	out, err := writer.OpenOutput(ctx, graphOutput, writer.OutputOptions{
		Atomic:      true,
		S3:          cfgManager.Get().S3.Options(),
		ContentType: "application/json",
	})
	if err != nil {
		return err
	}
	if err := g.WriteJSON(out); err != nil {
		out.Abort()
		return lferrors.Wrap(err, lferrors.CodeWriteFailed, "failed to write graph").WithContext("path", graphOutput)
	}
	if err := out.Commit(); err != nil {
		return err
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Graph: %d nodes, %d edges from %d sessions -> %s\n",
			len(g.Nodes), len(g.Edges), g.Sessions, graphOutput)
	}
	return nil
}

// withLedger opens the configured ledger for the runs commands.
func withLedger(fn func(ctx context.Context, b ledger.Backend) error) error {
	cfg := cfgManager.Get()
	if cfg.Ledger.Disabled {
		return fmt.Errorf("run ledger is disabled")
	}
	b, err := ledger.Open(cfg.Ledger.Config)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(context.Background(), b)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, b ledger.Backend) error {
		list, err := b.List(ctx)
		if err != nil {
			return err
		}
		tui.PrintRuns(os.Stdout, list)
		return nil
	})
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, b ledger.Backend) error {
		m, err := ledger.Find(ctx, b, args[0])
		if err != nil {
			return err
		}
		tui.PrintManifest(os.Stdout, m)
		return nil
	})
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, b ledger.Backend) error {
		m, err := ledger.Find(ctx, b, args[0])
		if err != nil {
			return err
		}
		if err := b.Delete(ctx, m.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted run %s\n", m.ID)
		return nil
	})
}

func runPresets(cmd *cobra.Command, args []string) error {
	presets := make(map[string]sessiongen.Config)
	for _, name := range cfgManager.PresetNames() {
		cfg, err := cfgManager.Preset(name)
		if err != nil {
			return err
		}
		presets[name] = cfg
	}
	tui.PrintPresets(os.Stdout, presets)
	return nil
}
