// Package inspect summarizes a session dataset with DuckDB: event and
// session counts, time range, events per session, top activities and
// top variants.
package inspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
	"github.com/logflow/sessiongen/pkg/util"
)

// DefaultTopN is the number of activities and variants reported.
const DefaultTopN = 10

// Analysis holds dataset insights.
type Analysis struct {
	Path             string          `json:"path"`
	TotalEvents      int64           `json:"total_events"`
	TotalSessions    int64           `json:"total_sessions"`
	UniqueActivities int64           `json:"unique_activities"`
	UniqueVariants   int64           `json:"unique_variants"`
	TimeRange        TimeRange       `json:"time_range"`
	SessionStats     SessionStats    `json:"session_stats"`
	TopActivities    []ActivityCount `json:"top_activities"`
	TopVariants      []VariantCount  `json:"top_variants,omitempty"`
	ComputeTime      time.Duration   `json:"compute_time"`
}

// TimeRange describes the time span of the log.
type TimeRange struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// SessionStats describes session-level statistics.
type SessionStats struct {
	MinEvents int64   `json:"min_events_per_session"`
	MaxEvents int64   `json:"max_events_per_session"`
	AvgEvents float64 `json:"avg_events_per_session"`
}

// ActivityCount holds activity frequency.
type ActivityCount struct {
	Activity string  `json:"activity"`
	Count    int64   `json:"count"`
	Percent  float64 `json:"percent"`
}

// VariantCount holds process variant frequency.
type VariantCount struct {
	Variant string  `json:"variant"`
	Count   int64   `json:"count"`
	Percent float64 `json:"percent"`
}

// Inspector runs analyses on an in-memory DuckDB instance.
type Inspector struct {
	db   *sql.DB
	topN int
}

// New opens an in-memory DuckDB database.
func New() (*Inspector, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeQueryFailed, "failed to open duckdb")
	}
	return &Inspector{db: db, topN: DefaultTopN}, nil
}

// WithTopN sets how many activities and variants are listed.
func (in *Inspector) WithTopN(n int) *Inspector {
	if n > 0 {
		in.topN = n
	}
	return in
}

// Close releases resources.
func (in *Inspector) Close() error {
	return in.db.Close()
}

// source returns a subquery exposing session_id, ts and activity columns.
func source(path string) (string, error) {
	escaped := escapePath(path)
	switch util.BaseFormat(path) {
	case ".parquet":
		return fmt.Sprintf(`(SELECT CAST(session_id AS VARCHAR) AS session_id, "timestamp" AS ts, description AS activity FROM read_parquet('%s'))`, escaped), nil
	case ".csv":
		if util.Compression(path) == "snappy" {
			return "", lferrors.New(lferrors.CodeInvalidFormat, "snappy-compressed csv cannot be inspected").WithContext("path", path)
		}
		return fmt.Sprintf(`(SELECT SessionID AS session_id, strptime("Timestamp", '%%Y-%%m-%%dT%%H:%%M:%%SZ') AS ts, Description AS activity FROM read_csv_auto('%s', header = true, all_varchar = true))`, escaped), nil
	default:
		return "", lferrors.New(lferrors.CodeInvalidFormat, "unsupported dataset format").WithContext("path", path)
	}
}

// Analyze computes the summary of the dataset at path.
func (in *Inspector) Analyze(ctx context.Context, path string) (*Analysis, error) {
	start := time.Now()
	src, err := source(path)
	if err != nil {
		return nil, err
	}
	a := &Analysis{Path: path}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT session_id),
			COUNT(DISTINCT activity),
			MIN(ts),
			MAX(ts)
		FROM %s
	`, src)
	var minTS, maxTS sql.NullTime
	if err := in.db.QueryRowContext(ctx, query).Scan(
		&a.TotalEvents, &a.TotalSessions, &a.UniqueActivities, &minTS, &maxTS,
	); err != nil {
		return nil, queryError(err, path, "totals")
	}
	if minTS.Valid && maxTS.Valid {
		a.TimeRange.Start = minTS.Time.UTC()
		a.TimeRange.End = maxTS.Time.UTC()
		a.TimeRange.Duration = a.TimeRange.End.Sub(a.TimeRange.Start)
	}
	if a.TotalEvents == 0 {
		a.ComputeTime = time.Since(start)
		return a, nil
	}

	query = fmt.Sprintf(`
		SELECT
			MIN(cnt) as min_events,
			MAX(cnt) as max_events,
			AVG(cnt) as avg_events
		FROM (
			SELECT session_id, COUNT(*) as cnt
			FROM %s
			GROUP BY session_id
		)
	`, src)
	if err := in.db.QueryRowContext(ctx, query).Scan(
		&a.SessionStats.MinEvents,
		&a.SessionStats.MaxEvents,
		&a.SessionStats.AvgEvents,
	); err != nil {
		return nil, queryError(err, path, "session stats")
	}

	query = fmt.Sprintf(`
		SELECT
			activity,
			COUNT(*) as cnt,
			COUNT(*) * 100.0 / SUM(COUNT(*)) OVER () as pct
		FROM %s
		GROUP BY activity
		ORDER BY cnt DESC, activity
		LIMIT %d
	`, src, in.topN)
	if err := in.collect(ctx, query, func(rows *sql.Rows) error {
		var ac ActivityCount
		if err := rows.Scan(&ac.Activity, &ac.Count, &ac.Percent); err != nil {
			return err
		}
		a.TopActivities = append(a.TopActivities, ac)
		return nil
	}); err != nil {
		return nil, queryError(err, path, "top activities")
	}

	variants := fmt.Sprintf(`
		SELECT session_id, STRING_AGG(activity, ' -> ' ORDER BY ts) as variant
		FROM %s
		GROUP BY session_id
	`, src)

	query = fmt.Sprintf(`SELECT COUNT(DISTINCT variant) FROM (%s)`, variants)
	if err := in.db.QueryRowContext(ctx, query).Scan(&a.UniqueVariants); err != nil {
		return nil, queryError(err, path, "variants")
	}

	query = fmt.Sprintf(`
		SELECT
			variant,
			COUNT(*) as cnt,
			COUNT(*) * 100.0 / SUM(COUNT(*)) OVER () as pct
		FROM (%s)
		GROUP BY variant
		ORDER BY cnt DESC, variant
		LIMIT %d
	`, variants, in.topN)
	if err := in.collect(ctx, query, func(rows *sql.Rows) error {
		var vc VariantCount
		if err := rows.Scan(&vc.Variant, &vc.Count, &vc.Percent); err != nil {
			return err
		}
		a.TopVariants = append(a.TopVariants, vc)
		return nil
	}); err != nil {
		return nil, queryError(err, path, "top variants")
	}

	a.ComputeTime = time.Since(start)
	return a, nil
}

func (in *Inspector) collect(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := in.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func queryError(err error, path, stage string) error {
	return lferrors.Wrap(err, lferrors.CodeQueryFailed, "inspect query failed").
		WithContext("path", path).
		WithContext("stage", stage)
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
