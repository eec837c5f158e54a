package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/sessiongen/pkg/ledger"
	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/telemetry"
	"github.com/logflow/sessiongen/pkg/util"
	"github.com/logflow/sessiongen/pkg/verify"
	"github.com/logflow/sessiongen/pkg/writer"
)

func newGenerateCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "generate"}
	addGenerateFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	return cmd
}

func TestResolveJobs_Default(t *testing.T) {
	jobs, err := resolveJobs(newGenerateCmd(t))
	if err != nil {
		t.Fatalf("resolveJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].preset != sessiongen.PresetSequential {
		t.Fatalf("Expected the sequential preset, got %+v", jobs)
	}
	if jobs[0].cfg.Output != "largest_dataset.csv" {
		t.Errorf("Expected largest_dataset.csv, got %s", jobs[0].cfg.Output)
	}
}

func TestResolveJobs_AliasesAndOverrides(t *testing.T) {
	cmd := newGenerateCmd(t, "--preset", "a", "--preset", "sequential", "--preset", "b",
		"--sessions", "10", "--seed", "7", "--format", "parquet")
	jobs, err := resolveJobs(cmd)
	if err != nil {
		t.Fatalf("resolveJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected duplicate aliases to collapse into 2 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.cfg.Sessions != 10 || j.cfg.Seed != 7 || j.cfg.Format != "parquet" {
			t.Errorf("%s: Expected overrides applied, got %+v", j.preset, j.cfg)
		}
	}
	if jobs[1].cfg.Output != "datasets/largest_dataset5.csv" || jobs[1].cfg.MinEvents != 8 {
		t.Errorf("Expected hashed preset fields to survive, got %+v", jobs[1].cfg)
	}
}

func TestResolveJobs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"output with several presets", []string{"--preset", "a", "--preset", "b", "--output", "x.csv"}},
		{"unknown preset", []string{"--preset", "c"}},
		{"inverted bounds", []string{"--min-events", "6", "--max-events", "2"}},
		{"unknown scheme", []string{"--id-scheme", "sha1"}},
		{"zero parallelism", []string{"--parallel", "0"}},
		{"negative parallelism", []string{"--parallel", "-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := resolveJobs(newGenerateCmd(t, tt.args...)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestVerifyRules(t *testing.T) {
	cmd := &cobra.Command{Use: "verify"}
	addVerifyFlags(cmd)
	if err := cmd.ParseFlags([]string{"--preset", "b", "--sessions", "5"}); err != nil {
		t.Fatal(err)
	}
	rules, err := verifyRules(cmd)
	if err != nil {
		t.Fatalf("verifyRules: %v", err)
	}
	if rules.MinEvents != 8 || rules.MaxEvents != 10 || rules.Sessions != 5 {
		t.Errorf("unexpected rules: %+v", rules)
	}
	if rules.IDs == nil || rules.IDs.Name() != sessiongen.SchemeMD5 {
		t.Errorf("Expected md5 ids, got %v", rules.IDs)
	}
}

func TestRunner_RecordsAndVerifies(t *testing.T) {
	dir := t.TempDir()
	runs, err := ledger.NewBoltBackend(filepath.Join(dir, "state", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer runs.Close()

	provider, err := telemetry.Init(context.Background(), telemetry.OTLPConfig{})
	if err != nil {
		t.Fatal(err)
	}

	cfg := sessiongen.HashedPreset()
	cfg.Sessions = 50
	cfg.Seed = 11
	cfg.Output = filepath.Join(dir, "sessions.csv.zst")
	cfg.Compression = "zstd"

	stdout := os.Stdout
	devnull, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	os.Stdout = devnull
	defer func() { os.Stdout = stdout; devnull.Close() }()

	r := &runner{provider: provider, runs: runs, opts: writer.OutputOptions{Atomic: true}}
	if err := r.run(context.Background(), job{preset: sessiongen.PresetHashed, cfg: cfg}); err != nil {
		t.Fatalf("run: %v", err)
	}

	list, err := runs.List(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected one recorded run, got %d (%v)", len(list), err)
	}
	m := list[0]
	if m.Phase != ledger.PhaseComplete || m.Seed != 11 || m.Sessions != 50 || m.SHA256 == "" {
		t.Errorf("unexpected manifest: %+v", m)
	}
	if m.CompletedAt == nil || m.Duration() < 0 || m.Duration() > time.Minute {
		t.Errorf("unexpected duration: %v", m.Duration())
	}

	in, closeFn, err := util.OpenFile(cfg.Output)
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	rules, _ := verify.RulesFor(cfg)
	rep, err := verify.Verify(context.Background(), in, rules)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.OK() || rep.Rows != m.Rows {
		t.Errorf("Expected a valid dataset with %d rows, got %d rows and %v", m.Rows, rep.Rows, rep.Violations)
	}
}

func TestRunner_FailureIsRecorded(t *testing.T) {
	dir := t.TempDir()
	runs, err := ledger.NewBoltBackend(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer runs.Close()
	provider, _ := telemetry.Init(context.Background(), telemetry.OTLPConfig{})

	cfg := sessiongen.SequentialPreset()
	cfg.Sessions = 5
	cfg.Output = filepath.Join(dir, "missing", "out.csv")

	r := &runner{provider: provider, runs: runs}
	if err := r.run(context.Background(), job{preset: sessiongen.PresetSequential, cfg: cfg}); err == nil {
		t.Fatal("Expected failure for a missing directory")
	}
	list, _ := runs.List(context.Background())
	if len(list) != 1 || list[0].Phase != ledger.PhaseFailed || list[0].Error == "" {
		t.Errorf("Expected a failed manifest, got %+v", list)
	}
}
