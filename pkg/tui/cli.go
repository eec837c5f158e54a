// Package tui renders progress and summaries for the sessiongen CLI.
// Plain streaming output, styled with lipgloss.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/sessiongen/pkg/inspect"
	"github.com/logflow/sessiongen/pkg/ledger"
	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/verify"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  SESSIONGEN")+mutedStyle.Render(" v"+version))
	fmt.Fprintln(w, mutedStyle.Render("  Synthetic session event-log generator"))
	fmt.Fprintln(w)
}

// ShowProgress creates a session progress bar on stderr.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("sessions"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// GenerationReport summarizes one finished dataset.
type GenerationReport struct {
	RunID  string
	Preset string
	Path   string
	Stats  sessiongen.Stats
	Bytes  int64
	SHA256 string
}

// PrintGenerationReport prints the result of a generate run.
func PrintGenerationReport(w io.Writer, r *GenerationReport) {
	fmt.Fprintln(w)
	title := "  ✓ DATASET WRITTEN"
	if r.Preset != "" {
		title += " " + mutedStyle.Render("("+r.Preset+")")
	}
	fmt.Fprintln(w, successStyle.Render(title))
	fmt.Fprintln(w)
	field(w, "Output:", codeStyle.Render(r.Path))
	field(w, "Sessions:", titleStyle.Render(formatNumber(r.Stats.Sessions)))
	field(w, "Events:", titleStyle.Render(formatNumber(r.Stats.Rows))+" "+
		mutedStyle.Render(fmt.Sprintf("(%d-%d per session)", r.Stats.MinSessionSize, r.Stats.MaxSessionSize)))
	if r.Bytes > 0 {
		field(w, "Size:", titleStyle.Render(formatBytes(r.Bytes)))
	}
	field(w, "Seed:", fmt.Sprintf("%d", r.Stats.Seed))

	if r.Stats.Duration > 0 {
		throughput := float64(r.Stats.Rows) / r.Stats.Duration.Seconds()
		field(w, "Time:", titleStyle.Render(formatDuration(r.Stats.Duration))+" "+
			mutedStyle.Render(fmt.Sprintf("(%s events/sec)", formatNumber(int64(throughput)))))
	}
	if r.SHA256 != "" {
		field(w, "SHA-256:", mutedStyle.Render(r.SHA256))
	}
	if r.RunID != "" {
		field(w, "Run:", mutedStyle.Render(r.RunID))
	}
	fmt.Fprintln(w)
}

// PrintVerifyReport prints a verification report.
func PrintVerifyReport(w io.Writer, path string, r *verify.Report) {
	fmt.Fprintln(w)
	if r.OK() {
		fmt.Fprintln(w, successStyle.Render("  ✓ DATASET VALID"))
	} else {
		fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("  ✗ %s VIOLATIONS", formatNumber(r.TotalViolations))))
	}
	fmt.Fprintln(w)
	field(w, "File:", codeStyle.Render(path))
	field(w, "Rows:", titleStyle.Render(formatNumber(r.Rows)))
	field(w, "Sessions:", titleStyle.Render(formatNumber(r.Sessions))+" "+
		mutedStyle.Render(fmt.Sprintf("(%d-%d events)", r.MinSessionSize, r.MaxSessionSize)))
	if r.Scheme != "" {
		field(w, "IDs:", r.Scheme)
	}

	if len(r.ByRule) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("▸ BY RULE"))
		rules := make([]string, 0, len(r.ByRule))
		for name := range r.ByRule {
			rules = append(rules, name)
		}
		sort.Strings(rules)
		for _, name := range rules {
			fmt.Fprintf(w, "  %-14s %s\n", mutedStyle.Render(name), formatNumber(r.ByRule[name]))
		}

		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("▸ FIRST VIOLATIONS"))
		for _, v := range r.Violations {
			fmt.Fprintf(w, "  %s\n", v.String())
		}
		if hidden := r.TotalViolations - int64(len(r.Violations)); hidden > 0 {
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("  ... and %s more", formatNumber(hidden))))
		}
	}
	fmt.Fprintln(w)
}

// PrintAnalysis prints an inspect analysis.
func PrintAnalysis(w io.Writer, a *inspect.Analysis) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ DATASET"))
	field(w, "File:", codeStyle.Render(a.Path))
	field(w, "Events:", titleStyle.Render(formatNumber(a.TotalEvents)))
	field(w, "Sessions:", titleStyle.Render(formatNumber(a.TotalSessions)))
	field(w, "Per session:", fmt.Sprintf("%d-%d (avg %.2f)", a.SessionStats.MinEvents, a.SessionStats.MaxEvents, a.SessionStats.AvgEvents))
	field(w, "Range:", fmt.Sprintf("%s → %s", a.TimeRange.Start.UTC().Format(sessiongen.TimestampLayout), a.TimeRange.End.UTC().Format(sessiongen.TimestampLayout)))
	field(w, "Variants:", formatNumber(a.UniqueVariants))

	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ ACTIVITIES"))
	for _, ac := range a.TopActivities {
		fmt.Fprintf(w, "  %-28s %10s %s\n", ac.Activity, formatNumber(ac.Count), mutedStyle.Render(fmt.Sprintf("%5.1f%%", ac.Percent)))
	}

	if len(a.TopVariants) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("▸ TOP VARIANTS"))
		for _, v := range a.TopVariants {
			fmt.Fprintf(w, "  %10s %s %s\n", formatNumber(v.Count), mutedStyle.Render(fmt.Sprintf("%5.1f%%", v.Percent)), truncate(v.Variant, 80))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, mutedStyle.Render("  computed in "+formatDuration(a.ComputeTime)))
	fmt.Fprintln(w)
}

// PrintRuns prints a table of recorded runs.
func PrintRuns(w io.Writer, runs []*ledger.Manifest) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No runs recorded."))
		return
	}
	fmt.Fprintf(w, "  %-8s  %-10s  %-8s  %10s  %-19s  %s\n", "ID", "PRESET", "PHASE", "ROWS", "STARTED", "OUTPUT")
	for _, m := range runs {
		preset := m.Preset
		if preset == "" {
			preset = "-"
		}
		fmt.Fprintf(w, "  %-8s  %-10s  %-8s  %10s  %-19s  %s\n",
			shortID(m.ID), preset, phase(m.Phase), formatNumber(m.Rows),
			m.StartedAt.Local().Format("2006-01-02 15:04:05"), m.Output)
	}
}

// PrintManifest prints one run in full.
func PrintManifest(w io.Writer, m *ledger.Manifest) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  RUN "+m.ID))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	field(w, "Phase:", phase(m.Phase))
	if m.Preset != "" {
		field(w, "Preset:", m.Preset)
	}
	field(w, "Output:", codeStyle.Render(m.Output))
	format := m.Format
	if m.Compression != "" && m.Compression != "none" {
		format += "+" + m.Compression
	}
	field(w, "Format:", format)
	field(w, "Seed:", fmt.Sprintf("%d", m.Seed))
	printConfig(w, m.Config)
	field(w, "Sessions:", formatNumber(m.Sessions))
	field(w, "Rows:", formatNumber(m.Rows))
	if m.Bytes > 0 {
		field(w, "Size:", formatBytes(m.Bytes))
	}
	if m.SHA256 != "" {
		field(w, "SHA-256:", m.SHA256)
	}
	field(w, "Started:", m.StartedAt.Local().Format(time.RFC3339))
	if m.CompletedAt != nil {
		field(w, "Duration:", formatDuration(m.Duration()))
	}
	if m.Error != "" {
		field(w, "Error:", accentStyle.Render(m.Error))
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintln(w)
}

// PrintPresets lists presets with their parameters.
func PrintPresets(w io.Writer, presets map[string]sessiongen.Config) {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(w)
		fmt.Fprintln(w, accentStyle.Render("▸ "+strings.ToUpper(name)))
		cfg := presets[name]
		field(w, "Output:", codeStyle.Render(cfg.Output))
		field(w, "Sessions:", formatNumber(cfg.Sessions))
		printConfig(w, cfg)
		field(w, "Max rows:", formatNumber(cfg.MaxRows()))
	}
	fmt.Fprintln(w)
}

// PrintError prints err for the user.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ ")+err.Error())
}

func printConfig(w io.Writer, cfg sessiongen.Config) {
	field(w, "Events:", fmt.Sprintf("%d-%d per session, every %s", cfg.MinEvents, cfg.MaxEvents, cfg.Interval))
	field(w, "Year:", fmt.Sprintf("%d", cfg.Year))
	field(w, "IDs:", cfg.IDScheme)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(label), value)
}

func phase(p ledger.Phase) string {
	switch p {
	case ledger.PhaseComplete:
		return successStyle.Render(string(p))
	case ledger.PhaseFailed:
		return accentStyle.Render(string(p))
	default:
		return string(p)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
