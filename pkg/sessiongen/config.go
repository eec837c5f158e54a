package sessiongen

import (
	"fmt"
	"sort"
	"strings"
	"time"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

// TimestampLayout renders timestamps with second precision and a literal
// Z suffix.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Header is the fixed column header of every dataset.
var Header = []string{"SessionID", "Timestamp", "Description"}

// Config describes one dataset.
type Config struct {
	// Sessions is the number of sessions to emit, numbered 1..Sessions.
	Sessions int64 `yaml:"sessions"`

	// MinEvents and MaxEvents bound the inclusive per-session event count.
	MinEvents int `yaml:"min_events"`
	MaxEvents int `yaml:"max_events"`

	// Interval separates consecutive events of a session.
	Interval time.Duration `yaml:"interval"`

	// Year is the calendar year session starts are drawn from.
	Year int `yaml:"year"`

	// Output is a local path or an s3://bucket/key URI.
	Output string `yaml:"output"`

	// IDScheme is one of sequential, md5, murmur3.
	IDScheme string `yaml:"id_scheme"`

	// Seed fixes the random source; 0 draws a fresh seed per run.
	Seed uint64 `yaml:"seed"`

	Format      string `yaml:"format"`      // csv | parquet | xlsx
	Compression string `yaml:"compression"` // none | gzip | zstd | snappy (csv only)

	// Atomic writes to a temp file and renames it over Output on success.
	Atomic bool `yaml:"atomic"`
}

// Preset names.
const (
	PresetSequential = "sequential"
	PresetHashed     = "hashed"
)

var presetAliases = map[string]string{
	"a": PresetSequential,
	"b": PresetHashed,
}

// SequentialPreset is the one-million-session dataset keyed by plain
// counters.
func SequentialPreset() Config {
	return Config{
		Sessions:  1_000_000,
		MinEvents: 1,
		MaxEvents: 5,
		Interval:  5 * time.Minute,
		Year:      2023,
		Output:    "largest_dataset.csv",
		IDScheme:  SchemeSequential,
		Format:    "csv",
	}
}

// HashedPreset is the three-million-session dataset keyed by MD5 labels.
func HashedPreset() Config {
	return Config{
		Sessions:  3_000_000,
		MinEvents: 8,
		MaxEvents: 10,
		Interval:  5 * time.Minute,
		Year:      2023,
		Output:    "datasets/largest_dataset5.csv",
		IDScheme:  SchemeMD5,
		Format:    "csv",
	}
}

// Presets returns the built-in presets keyed by name.
func Presets() map[string]Config {
	return map[string]Config{
		PresetSequential: SequentialPreset(),
		PresetHashed:     HashedPreset(),
	}
}

// CanonicalPreset resolves aliases such as "a" and "b".
func CanonicalPreset(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := presetAliases[name]; ok {
		return canonical
	}
	return name
}

// Preset returns the built-in preset registered under name or alias.
func Preset(name string) (Config, error) {
	cfg, ok := Presets()[CanonicalPreset(name)]
	if !ok {
		return Config{}, fmt.Errorf("unknown preset: %s (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return cfg, nil
}

// PresetNames lists built-in preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, 2)
	for name := range Presets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// YearStart is the inclusive lower bound of the start window.
func (c Config) YearStart() time.Time {
	return time.Date(c.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// YearEnd is the exclusive upper bound of the start window.
func (c Config) YearEnd() time.Time {
	return time.Date(c.Year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// Scheme resolves the configured id scheme.
func (c Config) Scheme() (IDScheme, error) {
	return ParseIDScheme(c.IDScheme)
}

// MaxRows is the largest number of data rows the config can produce.
func (c Config) MaxRows() int64 {
	return c.Sessions * int64(c.MaxEvents)
}

// Validate checks the generation parameters.
func (c Config) Validate() error {
	switch {
	case c.Sessions < 1:
		return lferrors.Invalid("sessions", c.Sessions, "must be at least 1")
	case c.MinEvents < 1:
		return lferrors.Invalid("min_events", c.MinEvents, "must be at least 1")
	case c.MaxEvents < c.MinEvents:
		return lferrors.Invalid("max_events", c.MaxEvents, "must not be below min_events")
	case c.Interval <= 0:
		return lferrors.Invalid("interval", c.Interval, "must be positive")
	case c.Year < 1 || c.Year > 9998:
		return lferrors.Invalid("year", c.Year, "must be within 1..9998")
	}
	if _, err := c.Scheme(); err != nil {
		return lferrors.Invalid("id_scheme", c.IDScheme, err.Error())
	}
	return nil
}
