package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

// Backend defines the interface for manifest storage backends.
type Backend interface {
	// Save creates or replaces a manifest.
	Save(ctx context.Context, m *Manifest) error

	// Load retrieves a manifest by ID. Unknown ids yield ErrNotFound.
	Load(ctx context.Context, id string) (*Manifest, error)

	// List returns all manifests, newest first.
	List(ctx context.Context) ([]*Manifest, error)

	// Delete removes a manifest.
	Delete(ctx context.Context, id string) error

	// Name returns the backend name for logging/debugging.
	Name() string

	Close() error
}

// ErrNotFound is wrapped by Load errors for unknown ids.
var ErrNotFound = errors.New("run not found")

func notFound(id string) error {
	return lferrors.Wrap(ErrNotFound, lferrors.CodeLedgerFailed, "no such run").WithContext("id", id)
}

// Backend names.
const (
	BackendBolt  = "bolt"
	BackendRedis = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string        `yaml:"backend"`
	Path      string        `yaml:"path"`
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// DefaultConfig stores runs in ~/.sessiongen/runs.db.
func DefaultConfig() Config {
	path := "runs.db"
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".sessiongen", "runs.db")
	}
	return Config{
		Backend: BackendBolt,
		Path:    path,
		Prefix:  "sessiongen:runs:",
	}
}

// Open creates the configured backend.
func Open(cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendBolt, "":
		return NewBoltBackend(cfg.Path)
	case BackendRedis:
		rc := DefaultRedisConfig(cfg.RedisAddr)
		rc.Password = cfg.Password
		if cfg.Prefix != "" {
			rc.Prefix = cfg.Prefix
		}
		rc.TTL = cfg.TTL
		return NewRedisBackend(rc)
	default:
		return nil, lferrors.Invalid("ledger.backend", cfg.Backend, "must be bolt or redis")
	}
}

// Find returns the manifest whose id equals or starts with prefix.
func Find(ctx context.Context, b Backend, prefix string) (*Manifest, error) {
	m, err := b.Load(ctx, prefix)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	all, err := b.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *Manifest
	for _, m := range all {
		if strings.HasPrefix(m.ID, prefix) {
			if match != nil {
				return nil, lferrors.New(lferrors.CodeLedgerFailed, "ambiguous run id").WithContext("id", prefix)
			}
			match = m
		}
	}
	if match == nil {
		return nil, notFound(prefix)
	}
	return match, nil
}

func sortNewestFirst(ms []*Manifest) {
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].StartedAt.After(ms[j].StartedAt)
	})
}
