// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < --config < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/ledger"
	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/storage/s3"
)

// Config holds all sessiongen configuration.
type Config struct {
	Version int `yaml:"version"`

	// Presets overrides built-in presets field by field, or defines new
	// ones under other names.
	Presets map[string]sessiongen.Config `yaml:"presets"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	S3        S3Config        `yaml:"s3"`
	Server    ServerConfig    `yaml:"server"`
}

// LedgerConfig selects where run manifests are kept.
type LedgerConfig struct {
	ledger.Config `yaml:",inline"`

	Disabled bool `yaml:"disabled"`
}

// TelemetryConfig for optional tracing.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	ServiceName   string  `yaml:"service_name"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
	Insecure      bool    `yaml:"insecure"`
}

// S3Config for s3:// inputs and outputs.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// ServerConfig for the graph HTTP server.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	StaticDir      string        `yaml:"static_dir"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// Options converts the section into client options.
func (c S3Config) Options() s3.Config {
	opts := s3.DefaultConfig(c.Region)
	opts.Endpoint = c.Endpoint
	opts.UsePathStyle = c.PathStyle
	return opts
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Presets: map[string]sessiongen.Config{},
		Ledger:  LedgerConfig{Config: ledger.DefaultConfig()},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			ServiceName:   "sessiongen",
			SamplingRatio: 1.0,
			Insecure:      true,
		},
		S3: S3Config{Region: "us-east-1"},
		Server: ServerConfig{
			Addr:           ":8085",
			StaticDir:      "./static",
			ReadTimeout:    60 * time.Minute,
			WriteTimeout:   60 * time.Minute,
			IdleTimeout:    60 * time.Second,
			MaxUploadBytes: 3 << 30,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order. An
// explicit file must exist; the conventional locations are optional.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !os.IsNotExist(err) {
				return lferrors.Wrap(err, lferrors.CodeParseFailed, "failed to load config").WithContext("path", path)
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if os.IsNotExist(err) {
				return lferrors.FromFS(err, "read config", explicit)
			}
			return lferrors.Wrap(err, lferrors.CodeParseFailed, "failed to load config").WithContext("path", explicit)
		}
		m.paths = append(m.paths, explicit)
	}

	m.loadEnv()
	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/sessiongen/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".sessiongen", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".sessiongen.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return err
	}

	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	for name, p := range src.Presets {
		name = sessiongen.CanonicalPreset(name)
		dst := m.config.Presets[name]
		mergePreset(&dst, p)
		m.config.Presets[name] = dst
	}

	// Ledger
	if src.Ledger.Backend != "" {
		m.config.Ledger.Backend = src.Ledger.Backend
	}
	if src.Ledger.Path != "" {
		m.config.Ledger.Path = src.Ledger.Path
	}
	if src.Ledger.RedisAddr != "" {
		m.config.Ledger.RedisAddr = src.Ledger.RedisAddr
	}
	if src.Ledger.Password != "" {
		m.config.Ledger.Password = src.Ledger.Password
	}
	if src.Ledger.Prefix != "" {
		m.config.Ledger.Prefix = src.Ledger.Prefix
	}
	if src.Ledger.TTL != 0 {
		m.config.Ledger.TTL = src.Ledger.TTL
	}
	if src.Ledger.Disabled {
		m.config.Ledger.Disabled = true
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
	if src.Telemetry.ServiceName != "" {
		m.config.Telemetry.ServiceName = src.Telemetry.ServiceName
	}
	if src.Telemetry.SamplingRatio != 0 {
		m.config.Telemetry.SamplingRatio = src.Telemetry.SamplingRatio
	}

	// S3
	if src.S3.Region != "" {
		m.config.S3.Region = src.S3.Region
	}
	if src.S3.Endpoint != "" {
		m.config.S3.Endpoint = src.S3.Endpoint
	}
	if src.S3.PathStyle {
		m.config.S3.PathStyle = true
	}

	// Server
	if src.Server.Addr != "" {
		m.config.Server.Addr = src.Server.Addr
	}
	if src.Server.StaticDir != "" {
		m.config.Server.StaticDir = src.Server.StaticDir
	}
	if src.Server.ReadTimeout != 0 {
		m.config.Server.ReadTimeout = src.Server.ReadTimeout
	}
	if src.Server.WriteTimeout != 0 {
		m.config.Server.WriteTimeout = src.Server.WriteTimeout
	}
	if src.Server.IdleTimeout != 0 {
		m.config.Server.IdleTimeout = src.Server.IdleTimeout
	}
	if src.Server.MaxUploadBytes != 0 {
		m.config.Server.MaxUploadBytes = src.Server.MaxUploadBytes
	}
}

// mergePreset copies the non-zero fields of src over dst.
func mergePreset(dst *sessiongen.Config, src sessiongen.Config) {
	if src.Sessions != 0 {
		dst.Sessions = src.Sessions
	}
	if src.MinEvents != 0 {
		dst.MinEvents = src.MinEvents
	}
	if src.MaxEvents != 0 {
		dst.MaxEvents = src.MaxEvents
	}
	if src.Interval != 0 {
		dst.Interval = src.Interval
	}
	if src.Year != 0 {
		dst.Year = src.Year
	}
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.IDScheme != "" {
		dst.IDScheme = src.IDScheme
	}
	if src.Seed != 0 {
		dst.Seed = src.Seed
	}
	if src.Format != "" {
		dst.Format = src.Format
	}
	if src.Compression != "" {
		dst.Compression = src.Compression
	}
	if src.Atomic {
		dst.Atomic = true
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	// SESSIONGEN_LEDGER selects the backend; "none" disables the ledger
	if v := os.Getenv("SESSIONGEN_LEDGER"); v != "" {
		if v == "none" {
			m.config.Ledger.Disabled = true
		} else {
			m.config.Ledger.Backend = v
		}
	}

	if v := os.Getenv("SESSIONGEN_REDIS_ADDR"); v != "" {
		m.config.Ledger.RedisAddr = v
	}

	// SESSIONGEN_OTLP_ENDPOINT enables tracing
	if v := os.Getenv("SESSIONGEN_OTLP_ENDPOINT"); v != "" {
		m.config.Telemetry.Enabled = true
		m.config.Telemetry.Endpoint = v
	}

	if v := os.Getenv("SESSIONGEN_OTLP_SAMPLING"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			m.config.Telemetry.SamplingRatio = ratio
		}
	}

	if v := os.Getenv("SESSIONGEN_S3_ENDPOINT"); v != "" {
		m.config.S3.Endpoint = v
		m.config.S3.PathStyle = true
	}

	if v := os.Getenv("SESSIONGEN_S3_REGION"); v != "" {
		m.config.S3.Region = v
	}

	// SESSIONGEN_PORT is a bare port, as container platforms set it
	if v := os.Getenv("SESSIONGEN_PORT"); v != "" {
		m.config.Server.Addr = ":" + v
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Preset resolves a preset by name or alias: the built-in definition, if
// any, with configured overrides applied.
func (m *Manager) Preset(name string) (sessiongen.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	canonical := sessiongen.CanonicalPreset(name)
	cfg, builtinErr := sessiongen.Preset(canonical)
	override, ok := m.config.Presets[canonical]
	if builtinErr != nil && !ok {
		return sessiongen.Config{}, fmt.Errorf("unknown preset: %s (available: %v)", name, m.presetNamesLocked())
	}
	if ok {
		mergePreset(&cfg, override)
	}
	return cfg, nil
}

// PresetNames lists built-in and configured presets.
func (m *Manager) PresetNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presetNamesLocked()
}

func (m *Manager) presetNamesLocked() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range sessiongen.PresetNames() {
		seen[name] = true
		names = append(names, name)
	}
	for name := range m.config.Presets {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
