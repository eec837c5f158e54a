// Package ledger records generation runs so any dataset can be traced back
// to its preset, parameters and seed, and regenerated.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// Phase is the lifecycle state of a run.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// Manifest describes one generation run.
type Manifest struct {
	ID     string            `json:"id"`
	Preset string            `json:"preset,omitempty"`
	Config sessiongen.Config `json:"config"`

	// Seed is the seed actually used, drawn when Config.Seed was 0.
	Seed uint64 `json:"seed"`

	Output      string `json:"output"`
	Format      string `json:"format"`
	Compression string `json:"compression,omitempty"`

	Sessions int64  `json:"sessions"`
	Rows     int64  `json:"rows"`
	Bytes    int64  `json:"bytes"`
	SHA256   string `json:"sha256,omitempty"`

	Phase       Phase      `json:"phase"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewManifest creates a running manifest for cfg.
func NewManifest(preset string, cfg sessiongen.Config, seed uint64) *Manifest {
	format := cfg.Format
	if format == "" {
		format = "csv"
	}
	return &Manifest{
		ID:          uuid.NewString(),
		Preset:      preset,
		Config:      cfg,
		Seed:        seed,
		Output:      cfg.Output,
		Format:      format,
		Compression: cfg.Compression,
		Phase:       PhaseRunning,
		StartedAt:   time.Now().UTC(),
	}
}

// Complete marks the run finished. A non-nil err marks it failed.
func (m *Manifest) Complete(sessions, rows, bytes int64, sha string, err error) {
	now := time.Now().UTC()
	m.CompletedAt = &now
	m.Sessions = sessions
	m.Rows = rows
	m.Bytes = bytes
	if err != nil {
		m.Phase = PhaseFailed
		m.Error = err.Error()
		return
	}
	m.Phase = PhaseComplete
	m.SHA256 = sha
}

// Replay returns the config that regenerates this run's dataset.
func (m *Manifest) Replay() sessiongen.Config {
	cfg := m.Config
	cfg.Seed = m.Seed
	return cfg
}

// Duration returns the run time, or the time since start while running.
func (m *Manifest) Duration() time.Duration {
	if m.CompletedAt == nil {
		return time.Since(m.StartedAt)
	}
	return m.CompletedAt.Sub(m.StartedAt)
}
