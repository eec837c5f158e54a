// Package sessiongen generates synthetic session event logs: for each
// session a random start inside a calendar year, a bounded number of
// events spaced by a fixed interval, and descriptions drawn from a fixed
// label set.
package sessiongen

import (
	"context"
	"math/rand/v2"
	"time"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

// Record is one output row.
type Record struct {
	// Session is the sequential counter the id was derived from.
	Session     int64
	SessionID   string
	Timestamp   time.Time
	Description string
}

// Fields renders the record as the three CSV columns.
func (r Record) Fields() []string {
	return []string{r.SessionID, r.Timestamp.Format(TimestampLayout), r.Description}
}

// Sink receives records in generation order. The sink owns the header.
type Sink interface {
	Write(rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec Record) error

func (f SinkFunc) Write(rec Record) error { return f(rec) }

// Stats summarizes a finished run.
type Stats struct {
	Sessions       int64
	Rows           int64
	MinSessionSize int
	MaxSessionSize int
	Seed           uint64
	Duration       time.Duration
}

// Generator produces the records of one dataset. It is not safe for
// concurrent use; run one Generator per goroutine.
type Generator struct {
	cfg  Config
	ids  IDScheme
	rng  *rand.Rand
	seed uint64

	progressEvery int64
	progress      func(sessions int64)

	buf []Record
}

// NewSource returns a PCG-backed random source for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// New creates a generator drawing from rng. The seed is only recorded in
// Stats and is informational.
func New(cfg Config, rng *rand.Rand, seed uint64) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ids, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}
	return &Generator{
		cfg:  cfg,
		ids:  ids,
		rng:  rng,
		seed: seed,
		buf:  make([]Record, 0, cfg.MaxEvents),
	}, nil
}

// NewSeeded creates a generator seeded from cfg.Seed, or from a freshly
// drawn seed when cfg.Seed is zero. The seed in use is returned so the run
// can be reproduced.
func NewSeeded(cfg Config) (*Generator, uint64, error) {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64() | 1
	}
	g, err := New(cfg, NewSource(seed), seed)
	if err != nil {
		return nil, 0, err
	}
	return g, seed, nil
}

// OnProgress registers fn to be called every `every` sessions and once
// at the end.
func (g *Generator) OnProgress(every int64, fn func(sessions int64)) {
	if every < 1 {
		every = 1
	}
	g.progressEvery = every
	g.progress = fn
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Generate emits every session in ascending counter order to sink.
// The context is checked between sessions; on cancellation the rows
// already written stay with the sink.
func (g *Generator) Generate(ctx context.Context, sink Sink) (Stats, error) {
	start := time.Now()
	stats := Stats{Seed: g.seed, MinSessionSize: g.cfg.MaxEvents}

	for n := int64(1); n <= g.cfg.Sessions; n++ {
		if n&1023 == 0 {
			if err := ctx.Err(); err != nil {
				stats.Duration = time.Since(start)
				return stats, lferrors.ContextCanceled("generate", err).WithContext("session", n)
			}
		}

		records := g.Session(n)
		for _, rec := range records {
			if err := sink.Write(rec); err != nil {
				stats.Duration = time.Since(start)
				return stats, err
			}
		}

		stats.Sessions++
		stats.Rows += int64(len(records))
		if len(records) < stats.MinSessionSize {
			stats.MinSessionSize = len(records)
		}
		if len(records) > stats.MaxSessionSize {
			stats.MaxSessionSize = len(records)
		}

		if g.progress != nil && n%g.progressEvery == 0 {
			g.progress(n)
		}
	}

	if g.progress != nil && g.cfg.Sessions%g.progressEvery != 0 {
		g.progress(g.cfg.Sessions)
	}

	stats.Duration = time.Since(start)
	return stats, nil
}

// Session draws the records of session n. The returned slice is reused by
// the next call.
func (g *Generator) Session(n int64) []Record {
	id := g.ids.SessionID(n)
	begin := g.startTime()
	count := g.cfg.MinEvents + g.rng.IntN(g.cfg.MaxEvents-g.cfg.MinEvents+1)

	g.buf = g.buf[:0]
	for i := 0; i < count; i++ {
		g.buf = append(g.buf, Record{
			Session:     n,
			SessionID:   id,
			Timestamp:   begin.Add(time.Duration(i) * g.cfg.Interval),
			Description: Labels[g.rng.IntN(len(Labels))],
		})
	}
	return g.buf
}

// startTime draws a uniform second inside [YearStart, YearEnd).
func (g *Generator) startTime() time.Time {
	from := g.cfg.YearStart()
	window := int64(g.cfg.YearEnd().Sub(from) / time.Second)
	return from.Add(time.Duration(g.rng.Int64N(window)) * time.Second)
}
