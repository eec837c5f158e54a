// Package verify checks a session dataset against the generation rules:
// header, labels, timestamp layout, year window, per-session event
// bounds, intra-session spacing and session id ordering.
package verify

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/sessiongen"
)

// MaxRecorded is the number of violations kept in a Report. Violations
// beyond it are only counted.
const MaxRecorded = 50

// Rule names.
const (
	RuleHeader       = "header"
	RuleFields       = "fields"
	RuleLabel        = "label"
	RuleTimestamp    = "timestamp"
	RuleYear         = "year"
	RuleSessionSize  = "session_size"
	RuleInterval     = "interval"
	RuleSessionOrder = "session_order"
	RuleSessionID    = "session_id"
	RuleSessionCount = "session_count"
)

// Rules are the expectations a dataset is checked against.
type Rules struct {
	MinEvents int
	MaxEvents int
	Interval  time.Duration

	// Year bounds session starts; 0 skips the check.
	Year int

	// IDs is the expected id scheme. When nil it is inferred from the
	// first session id.
	IDs sessiongen.IDScheme

	// Sessions is the expected session count; 0 skips the check.
	Sessions int64
}

// RulesFor derives rules from a generation config.
func RulesFor(cfg sessiongen.Config) (Rules, error) {
	ids, err := cfg.Scheme()
	if err != nil {
		return Rules{}, lferrors.Invalid("id_scheme", cfg.IDScheme, err.Error())
	}
	return Rules{
		MinEvents: cfg.MinEvents,
		MaxEvents: cfg.MaxEvents,
		Interval:  cfg.Interval,
		Year:      cfg.Year,
		IDs:       ids,
		Sessions:  cfg.Sessions,
	}, nil
}

// Violation is one failed check.
type Violation struct {
	// Row is the 1-based data row, 0 for file-level checks.
	Row     int64
	Rule    string
	Value   string
	Message string
}

func (v Violation) String() string {
	if v.Row == 0 {
		return fmt.Sprintf("[%s] %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("row %d [%s] %s (%q)", v.Row, v.Rule, v.Message, v.Value)
}

// Report summarizes a verification pass.
type Report struct {
	Rows           int64
	Sessions       int64
	MinSessionSize int
	MaxSessionSize int
	Scheme         string
	Labels         map[string]int64

	Violations      []Violation
	TotalViolations int64
	ByRule          map[string]int64
}

// OK reports whether no check failed.
func (r *Report) OK() bool {
	return r.TotalViolations == 0
}

func (r *Report) add(v Violation) {
	r.TotalViolations++
	r.ByRule[v.Rule]++
	if len(r.Violations) < MaxRecorded {
		r.Violations = append(r.Violations, v)
	}
}

// checker holds the per-session state of a pass.
type checker struct {
	rules Rules
	rep   *Report

	from, to time.Time

	id      string
	counter int64
	size    int
	last    time.Time
	seen    map[string]struct{}
}

// Verify reads a dataset from r and checks it against rules. Malformed
// content is reported as violations; the returned error is reserved for
// read failures and cancellation.
func Verify(ctx context.Context, r io.Reader, rules Rules) (*Report, error) {
	rep := &Report{
		Labels: make(map[string]int64, len(sessiongen.Labels)),
		ByRule: make(map[string]int64),
	}
	c := &checker{rules: rules, rep: rep}
	if rules.Year != 0 {
		yc := sessiongen.Config{Year: rules.Year}
		c.from, c.to = yc.YearStart(), yc.YearEnd()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		rep.add(Violation{Rule: RuleHeader, Message: "dataset is empty"})
		return rep, nil
	}
	if err != nil {
		return rep, lferrors.Wrap(err, lferrors.CodeParseFailed, "failed to read header")
	}
	if strings.Join(header, ",") != strings.Join(sessiongen.Header, ",") {
		rep.add(Violation{Rule: RuleHeader, Message: fmt.Sprintf("header is %q", strings.Join(header, ","))})
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, lferrors.Wrap(err, lferrors.CodeParseFailed, "failed to read row").
				WithContext("row", rep.Rows+1)
		}
		rep.Rows++
		if rep.Rows&0xffff == 0 {
			if err := ctx.Err(); err != nil {
				return rep, lferrors.ContextCanceled("verify", err).WithContext("row", rep.Rows)
			}
		}
		c.row(rec)
	}
	c.closeSession(rep.Rows)

	if rules.Sessions > 0 && rep.Sessions != rules.Sessions {
		rep.add(Violation{Rule: RuleSessionCount, Message: fmt.Sprintf("found %d sessions, expected %d", rep.Sessions, rules.Sessions)})
	}
	if c.rules.IDs != nil {
		rep.Scheme = c.rules.IDs.Name()
	}
	return rep, nil
}

func (c *checker) violation(rule, value, format string, args ...interface{}) {
	c.rep.add(Violation{Row: c.rep.Rows, Rule: rule, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) row(rec []string) {
	if len(rec) != 3 {
		c.violation(RuleFields, strings.Join(rec, ","), "expected 3 fields, got %d", len(rec))
		return
	}
	id, stamp, label := rec[0], rec[1], rec[2]

	if sessiongen.IsLabel(label) {
		c.rep.Labels[label]++
	} else {
		c.violation(RuleLabel, label, "unknown description")
	}

	ts, err := time.Parse(sessiongen.TimestampLayout, stamp)
	if err != nil {
		c.violation(RuleTimestamp, stamp, "timestamp not in %s layout", sessiongen.TimestampLayout)
	}

	if id != c.id || c.counter == 0 {
		c.closeSession(c.rep.Rows - 1)
		c.openSession(id)
		if err == nil && c.rules.Year != 0 && (ts.Before(c.from) || !ts.Before(c.to)) {
			c.violation(RuleYear, stamp, "session start outside %d", c.rules.Year)
		}
	} else if err == nil && !c.last.IsZero() && c.rules.Interval > 0 {
		if gap := ts.Sub(c.last); gap != c.rules.Interval {
			c.violation(RuleInterval, stamp, "gap %s, expected %s", gap, c.rules.Interval)
		}
	}

	c.size++
	if err == nil {
		c.last = ts
	} else {
		c.last = time.Time{}
	}
}

func (c *checker) openSession(id string) {
	c.id = id
	c.counter++
	c.size = 0
	c.last = time.Time{}
	c.rep.Sessions++

	if c.counter == 1 && c.rules.IDs == nil {
		c.rules.IDs = InferScheme(id)
		if c.rules.IDs == nil {
			c.violation(RuleSessionID, id, "first session id matches no known scheme")
			c.seen = make(map[string]struct{})
		}
	}

	if c.rules.IDs == nil {
		if _, dup := c.seen[id]; dup {
			c.violation(RuleSessionOrder, id, "session is not contiguous")
		}
		c.seen[id] = struct{}{}
		return
	}
	if want := c.rules.IDs.SessionID(c.counter); id != want {
		if sessiongen.IsHashed(c.rules.IDs) {
			c.violation(RuleSessionID, id, "session %d should be %s", c.counter, want)
		} else {
			c.violation(RuleSessionOrder, id, "session %d should be %s", c.counter, want)
		}
	}
}

// closeSession checks the size of the session ending at lastRow.
func (c *checker) closeSession(lastRow int64) {
	if c.counter == 0 || c.size == 0 {
		return
	}
	if c.rep.MinSessionSize == 0 || c.size < c.rep.MinSessionSize {
		c.rep.MinSessionSize = c.size
	}
	if c.size > c.rep.MaxSessionSize {
		c.rep.MaxSessionSize = c.size
	}
	if c.size < c.rules.MinEvents || (c.rules.MaxEvents > 0 && c.size > c.rules.MaxEvents) {
		c.rep.add(Violation{
			Row:     lastRow,
			Rule:    RuleSessionSize,
			Value:   c.id,
			Message: fmt.Sprintf("session has %d events, expected %d..%d", c.size, c.rules.MinEvents, c.rules.MaxEvents),
		})
	}
}

// InferScheme returns the scheme whose first id equals id, or nil.
func InferScheme(id string) sessiongen.IDScheme {
	for _, s := range []sessiongen.IDScheme{sessiongen.SequentialIDs{}, sessiongen.MD5IDs{}, sessiongen.Murmur3IDs{}} {
		if s.SessionID(1) == id {
			return s
		}
	}
	return nil
}
