package sessiongen

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any seed and bounds, every session stays within its event bounds,
// is evenly spaced, and rows add up to the per-session counts.
func TestProperty_SessionInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("sessions respect bounds and spacing", prop.ForAll(
		func(seed uint64, minEvents, spread int, intervalSec int64) bool {
			cfg := Config{
				Sessions:  20,
				MinEvents: minEvents,
				MaxEvents: minEvents + spread,
				Interval:  time.Duration(intervalSec) * time.Second,
				Year:      2023,
				IDScheme:  SchemeSequential,
				Seed:      seed | 1,
			}
			g, _, err := NewSeeded(cfg)
			if err != nil {
				return false
			}

			counts := make(map[int64]int)
			var last Record
			ok := true
			stats, err := g.Generate(context.Background(), SinkFunc(func(rec Record) error {
				if counts[rec.Session] > 0 && rec.Timestamp.Sub(last.Timestamp) != cfg.Interval {
					ok = false
				}
				if !IsLabel(rec.Description) {
					ok = false
				}
				counts[rec.Session]++
				last = rec
				return nil
			}))
			if err != nil || !ok {
				return false
			}

			var total int64
			for _, n := range counts {
				if n < cfg.MinEvents || n > cfg.MaxEvents {
					return false
				}
				total += int64(n)
			}
			return int64(len(counts)) == cfg.Sessions && total == stats.Rows
		},
		gen.UInt64(),
		gen.IntRange(1, 8),
		gen.IntRange(0, 4),
		gen.Int64Range(1, 3600),
	))

	properties.Property("hashed ids are deterministic 32-char hex", prop.ForAll(
		func(n int64) bool {
			for _, s := range []IDScheme{MD5IDs{}, Murmur3IDs{}} {
				id := s.SessionID(n)
				if id != s.SessionID(n) || !hex32.MatchString(id) {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1_000_000_000),
	))

	properties.TestingRun(t)
}
