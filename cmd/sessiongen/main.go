// sessiongen - synthetic session event-log generator.
// Writes fixture datasets of (session, timestamp, description) rows for
// process-mining and analytics tests.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/logflow/sessiongen/pkg/config"
	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/ledger"
	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/telemetry"
	"github.com/logflow/sessiongen/pkg/tui"
	"github.com/logflow/sessiongen/pkg/writer"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	verbose    bool
	configPath string

	presetNames     []string
	sessions        int64
	minEvents       int
	maxEvents       int
	interval        time.Duration
	year            int
	outputFile      string
	idScheme        string
	seed            uint64
	formatFlag      string
	compressionFlag string
	atomicOutput    bool
	noLedger        bool
	noProgress      bool
	parallelRuns    int
)

var cfgManager = config.NewManager()

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sessiongen",
	Short: "sessiongen - Generate synthetic session event logs",
	Long: `sessiongen writes synthetic event-log datasets: one row per event with a
session id, a timestamp and a description drawn from a fixed label set.

Two presets reproduce the classic fixtures:
  sequential (a)  1,000,000 sessions, plain integer ids, 1-5 events  -> largest_dataset.csv
  hashed     (b)  3,000,000 sessions, MD5 ids, 8-10 events            -> datasets/largest_dataset5.csv`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfgManager.Load(configPath); err != nil {
			return err
		}
		if verbose {
			for _, p := range cfgManager.GetPaths() {
				fmt.Fprintf(os.Stderr, "Config: %s\n", p)
			}
		}
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one or more datasets",
	Long: `Generate datasets from presets, overriding any field with flags.

The output directory must already exist. By default the output file is
truncated and written in place; with --atomic it is written to a temporary
file and renamed into place only on success. s3://bucket/key outputs are
uploaded as a streaming multipart upload.

Examples:
  sessiongen generate --preset a
  sessiongen generate --preset b --seed 42
  sessiongen generate --preset a --preset b
  sessiongen generate --preset a --sessions 1000 --output small.csv.gz --compression gzip
  sessiongen generate --preset b --format parquet --output s3://fixtures/sessions.parquet`,
	RunE: runGenerate,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (merged over the default locations)")

	addGenerateFlags(generateCmd)

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(presetsCmd)
}

// addGenerateFlags defines the generate flags on cmd.
func addGenerateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayVarP(&presetNames, "preset", "p", nil, "Preset to generate (a|sequential, b|hashed, or a configured name); repeatable")
	f.Int64Var(&sessions, "sessions", 0, "Number of sessions")
	f.IntVar(&minEvents, "min-events", 0, "Minimum events per session")
	f.IntVar(&maxEvents, "max-events", 0, "Maximum events per session")
	f.DurationVar(&interval, "interval", 0, "Spacing between events of a session")
	f.IntVar(&year, "year", 0, "Calendar year session starts are drawn from")
	f.StringVarP(&outputFile, "output", "o", "", "Output path or s3://bucket/key")
	f.StringVar(&idScheme, "id-scheme", "", "Session id scheme (sequential, md5, murmur3)")
	f.Uint64Var(&seed, "seed", 0, "Random seed (0 draws a fresh one)")
	f.StringVarP(&formatFlag, "format", "f", "", "Output format (csv, parquet, xlsx)")
	f.StringVar(&compressionFlag, "compression", "", "Compression (none, gzip, zstd, snappy)")
	f.BoolVar(&atomicOutput, "atomic", false, "Write to a temp file and rename on success")
	f.BoolVar(&noLedger, "no-ledger", false, "Do not record the run")
	f.BoolVar(&noProgress, "no-progress", false, "Hide the progress bar")
	f.IntVar(&parallelRuns, "parallel", 2, "Maximum datasets generated at once")
}

// job is one dataset to generate.
type job struct {
	preset string
	cfg    sessiongen.Config
}

func runGenerate(cmd *cobra.Command, args []string) error {
	jobs, err := resolveJobs(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	cfg := cfgManager.Get()

	provider, err := telemetry.Init(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()

	runs := openLedger(cfg)
	if runs != nil {
		defer runs.Close()
	}

	r := &runner{
		provider: provider,
		runs:     runs,
		opts:     writer.OutputOptions{Atomic: atomicOutput, S3: cfg.S3.Options()},
		progress: !noProgress && len(jobs) == 1,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelRuns)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			return r.run(ctx, j)
		})
	}
	return g.Wait()
}

// resolveJobs expands --preset flags into configs with flag overrides
// applied. Without --preset the sequential preset is used.
func resolveJobs(cmd *cobra.Command) ([]job, error) {
	names := presetNames
	if len(names) == 0 {
		names = []string{sessiongen.PresetSequential}
	}
	if len(names) > 1 && cmd.Flags().Changed("output") {
		return nil, fmt.Errorf("--output cannot be combined with multiple presets")
	}
	if parallelRuns < 1 {
		return nil, lferrors.Invalid("parallel", parallelRuns, "must be at least 1")
	}

	seen := make(map[string]bool)
	var jobs []job
	for _, name := range names {
		canonical := sessiongen.CanonicalPreset(name)
		if seen[canonical] {
			continue
		}
		seen[canonical] = true

		cfg, err := cfgManager.Preset(canonical)
		if err != nil {
			return nil, err
		}
		applyOverrides(cmd, &cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		jobs = append(jobs, job{preset: canonical, cfg: cfg})
	}
	return jobs, nil
}

// applyOverrides copies explicitly set generate flags onto cfg.
func applyOverrides(cmd *cobra.Command, cfg *sessiongen.Config) {
	flags := cmd.Flags()
	if flags.Changed("sessions") {
		cfg.Sessions = sessions
	}
	if flags.Changed("min-events") {
		cfg.MinEvents = minEvents
	}
	if flags.Changed("max-events") {
		cfg.MaxEvents = maxEvents
	}
	if flags.Changed("interval") {
		cfg.Interval = interval
	}
	if flags.Changed("year") {
		cfg.Year = year
	}
	if flags.Changed("output") {
		cfg.Output = outputFile
	}
	if flags.Changed("id-scheme") {
		cfg.IDScheme = idScheme
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("format") {
		cfg.Format = formatFlag
	}
	if flags.Changed("compression") {
		cfg.Compression = compressionFlag
	}
	if flags.Changed("atomic") {
		cfg.Atomic = atomicOutput
	}
}

// runner generates datasets and records them.
type runner struct {
	provider *telemetry.Provider
	runs     ledger.Backend
	opts     writer.OutputOptions
	progress bool

	mu sync.Mutex // serializes summaries
}

func (r *runner) run(ctx context.Context, j job) (err error) {
	gen, usedSeed, err := sessiongen.NewSeeded(j.cfg)
	if err != nil {
		return err
	}

	ctx, span := r.provider.Start(ctx, "sessiongen.generate",
		attribute.String("preset", j.preset),
		attribute.String("output", j.cfg.Output),
		attribute.Int64("sessions", j.cfg.Sessions),
		telemetry.Attr("seed", usedSeed),
	)
	defer func() { telemetry.End(span, err) }()

	manifest := ledger.NewManifest(j.preset, j.cfg, usedSeed)
	r.record(ctx, manifest)

	if verbose {
		fmt.Fprintf(os.Stderr, "[%s] run %s seed %d -> %s\n", j.preset, manifest.ID, usedSeed, j.cfg.Output)
	}

	var bar *progressbar.ProgressBar
	if r.progress {
		bar = tui.ShowProgress(j.cfg.Sessions, "Generating "+j.preset)
		gen.OnProgress(j.cfg.Sessions/1000, func(n int64) {
			bar.Set64(n)
		})
	}

	res, err := writer.Generate(ctx, gen, r.opts)
	if bar != nil {
		bar.Finish()
	}
	manifest.Complete(res.Stats.Sessions, res.Stats.Rows, res.Bytes, res.SHA256, err)
	r.record(context.WithoutCancel(ctx), manifest)
	telemetry.SetAttributes(ctx,
		attribute.Int64("rows", res.Stats.Rows),
		attribute.Int64("bytes", res.Bytes),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", j.preset, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	report := &tui.GenerationReport{
		Preset: j.preset,
		Path:   res.Path,
		Stats:  res.Stats,
		Bytes:  res.Bytes,
		SHA256: res.SHA256,
	}
	if r.runs != nil {
		report.RunID = manifest.ID
	}
	tui.PrintGenerationReport(os.Stdout, report)
	return nil
}

// record saves m, reporting failures without failing the run.
func (r *runner) record(ctx context.Context, m *ledger.Manifest) {
	if r.runs == nil {
		return
	}
	if err := r.runs.Save(ctx, m); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run %s not recorded: %v\n", m.ID, err)
	}
}

// openLedger opens the configured ledger. A ledger that cannot be opened
// only disables recording.
func openLedger(cfg *config.Config) ledger.Backend {
	if noLedger || cfg.Ledger.Disabled {
		return nil
	}
	b, err := ledger.Open(cfg.Ledger.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run ledger unavailable: %v\n", err)
		return nil
	}
	return b
}

func telemetryConfig(c config.TelemetryConfig) telemetry.OTLPConfig {
	otlp := telemetry.DefaultOTLPConfig(c.ServiceName)
	otlp.Enabled = c.Enabled
	otlp.Endpoint = c.Endpoint
	otlp.InsecureTLS = c.Insecure
	otlp.SamplingRatio = c.SamplingRatio
	otlp.ServiceVersion = version
	return otlp
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}
