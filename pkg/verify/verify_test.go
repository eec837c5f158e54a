package verify

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/logflow/sessiongen/pkg/sessiongen"
	"github.com/logflow/sessiongen/pkg/writer"
)

func dataset(t *testing.T, cfg sessiongen.Config) string {
	t.Helper()
	g, _, err := sessiongen.NewSeeded(cfg)
	if err != nil {
		t.Fatalf("NewSeeded: %v", err)
	}
	var buf bytes.Buffer
	w, err := writer.New(&buf, writer.DefaultConfig())
	if err != nil {
		t.Fatalf("writer.New: %v", err)
	}
	if _, err := g.Generate(context.Background(), w); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.String()
}

func config(scheme string, minEvents, maxEvents int) sessiongen.Config {
	return sessiongen.Config{
		Sessions:  120,
		MinEvents: minEvents,
		MaxEvents: maxEvents,
		Interval:  5 * time.Minute,
		Year:      2023,
		IDScheme:  scheme,
		Seed:      3,
	}
}

func run(t *testing.T, data string, rules Rules) *Report {
	t.Helper()
	rep, err := Verify(context.Background(), strings.NewReader(data), rules)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	return rep
}

func TestVerify_AcceptsGenerated(t *testing.T) {
	tests := []struct {
		name string
		cfg  sessiongen.Config
	}{
		{"sequential", config(sessiongen.SchemeSequential, 1, 5)},
		{"md5", config(sessiongen.SchemeMD5, 8, 10)},
		{"murmur3", config(sessiongen.SchemeMurmur3, 2, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := RulesFor(tt.cfg)
			if err != nil {
				t.Fatalf("RulesFor: %v", err)
			}
			rep := run(t, dataset(t, tt.cfg), rules)
			if !rep.OK() {
				t.Fatalf("Expected no violations, got %d: %v", rep.TotalViolations, rep.Violations)
			}
			if rep.Sessions != tt.cfg.Sessions {
				t.Errorf("Expected %d sessions, got %d", tt.cfg.Sessions, rep.Sessions)
			}
			if rep.MinSessionSize < tt.cfg.MinEvents || rep.MaxSessionSize > tt.cfg.MaxEvents {
				t.Errorf("session sizes %d..%d outside bounds", rep.MinSessionSize, rep.MaxSessionSize)
			}
			if rep.Scheme != tt.cfg.IDScheme {
				t.Errorf("Expected scheme %s, got %s", tt.cfg.IDScheme, rep.Scheme)
			}
		})
	}
}

func TestVerify_InfersScheme(t *testing.T) {
	cfg := config(sessiongen.SchemeMD5, 8, 10)
	rules, _ := RulesFor(cfg)
	rules.IDs = nil
	rep := run(t, dataset(t, cfg), rules)
	if !rep.OK() || rep.Scheme != sessiongen.SchemeMD5 {
		t.Fatalf("Expected clean md5 report, got scheme %q and %v", rep.Scheme, rep.Violations)
	}
}

const clean = `SessionID,Timestamp,Description
1,2023-05-01T10:00:00Z,Login
1,2023-05-01T10:05:00Z,Search
2,2023-12-31T23:59:59Z,Logout
`

func TestVerify_RejectsTampered(t *testing.T) {
	rules := Rules{MinEvents: 1, MaxEvents: 2, Interval: 5 * time.Minute, Year: 2023, IDs: sessiongen.SequentialIDs{}}

	if rep := run(t, clean, rules); !rep.OK() {
		t.Fatalf("Expected clean fixture to pass, got %v", rep.Violations)
	}

	tests := []struct {
		name string
		data string
		rule string
	}{
		{"header", strings.Replace(clean, "SessionID", "Session", 1), RuleHeader},
		{"label", strings.Replace(clean, "Search", "Browse", 1), RuleLabel},
		{"layout", strings.Replace(clean, "2023-05-01T10:05:00Z", "2023-05-01 10:05:00", 1), RuleTimestamp},
		{"year", strings.Replace(clean, "2023-12-31T23:59:59Z", "2024-01-01T00:00:00Z", 1), RuleYear},
		{"interval", strings.Replace(clean, "10:05:00", "10:06:00", 1), RuleInterval},
		{"fields", strings.Replace(clean, ",Logout", ",Logout,extra", 1), RuleFields},
		{"order", strings.Replace(clean, "2,2023", "3,2023", 1), RuleSessionOrder},
		{"size", clean + "2,2024-01-01T00:04:59Z,Login\n2,2024-01-01T00:09:59Z,Login\n", RuleSessionSize},
		{"contiguity", clean + "1,2023-05-01T10:10:00Z,Login\n", RuleSessionOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := run(t, tt.data, rules)
			if rep.OK() {
				t.Fatal("Expected violations")
			}
			if rep.ByRule[tt.rule] == 0 {
				t.Errorf("Expected a %s violation, got %v", tt.rule, rep.Violations)
			}
		})
	}
}

func TestVerify_HashedMismatch(t *testing.T) {
	cfg := config(sessiongen.SchemeMD5, 8, 10)
	data := dataset(t, cfg)
	second := sessiongen.MD5IDs{}.SessionID(2)
	tampered := strings.ReplaceAll(data, second, sessiongen.MD5IDs{}.SessionID(999))

	rules, _ := RulesFor(cfg)
	rep := run(t, tampered, rules)
	if rep.ByRule[RuleSessionID] != 1 {
		t.Errorf("Expected one session_id violation, got %v", rep.ByRule)
	}
}

func TestVerify_SessionCount(t *testing.T) {
	rules := Rules{MinEvents: 1, MaxEvents: 2, Interval: 5 * time.Minute, Sessions: 3}
	rep := run(t, clean, rules)
	if rep.ByRule[RuleSessionCount] != 1 {
		t.Errorf("Expected session_count violation, got %v", rep.Violations)
	}
}

func TestVerify_CapsRecorded(t *testing.T) {
	var b strings.Builder
	b.WriteString("SessionID,Timestamp,Description\n")
	for i := 0; i < MaxRecorded*2; i++ {
		b.WriteString("1,2023-05-01T10:00:00Z,Nope\n")
	}
	rep := run(t, b.String(), Rules{MinEvents: 1})
	if len(rep.Violations) != MaxRecorded {
		t.Errorf("Expected %d recorded violations, got %d", MaxRecorded, len(rep.Violations))
	}
	if rep.ByRule[RuleLabel] != int64(MaxRecorded*2) {
		t.Errorf("Expected %d label violations counted, got %d", MaxRecorded*2, rep.ByRule[RuleLabel])
	}
}

func TestVerify_Empty(t *testing.T) {
	rep := run(t, "", Rules{})
	if rep.ByRule[RuleHeader] != 1 {
		t.Errorf("Expected header violation for empty input, got %v", rep.Violations)
	}
}
