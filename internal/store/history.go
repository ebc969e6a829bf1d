package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
)

// DefaultHistoryLimit caps History when the query has no limit.
const DefaultHistoryLimit = 100

// HistoryQuery filters stored results. Empty fields match everything.
type HistoryQuery struct {
	Host  string
	RunID string
	// IncludeEnd also returns end-of-stream markers.
	IncludeEnd bool
	Limit      int
}

// Row is one stored result.
type Row struct {
	RunID     string
	Host      string
	Address   string
	Command   string
	Seq       int
	End       bool
	Timestamp time.Time
	Output    string
	ErrorKind string
	Error     string
	LatencyMS float64
	State     string
	Ticks     int
}

// Failed reports whether the row carries an error.
func (r Row) Failed() bool {
	return r.ErrorKind != ""
}

// Run is one stored poll run.
type Run struct {
	ID        string
	StartedAt time.Time
	// FinishedAt is zero while the run is in progress or if it was killed.
	FinishedAt time.Time
	Hosts      int
	Completed  int
	Aborted    int
	Results    int
	Failed     int
}

// History returns results newest first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]Row, error) {
	var where []string
	var args []any
	if q.Host != "" {
		where = append(where, "host = ?")
		args = append(args, q.Host)
	}
	if q.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, q.RunID)
	}
	if !q.IncludeEnd {
		where = append(where, "is_end = ?")
		args = append(args, false)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	args = append(args, limit)

	query := `SELECT run_id, host, address, command, seq, is_end, ts, output, error_kind, error, latency_ms, state, ticks
		FROM poll_results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, seq DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't query result history", "")
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.RunID, &r.Host, &r.Address, &r.Command, &r.Seq, &r.End, &r.Timestamp,
			&r.Output, &r.ErrorKind, &r.Error, &r.LatencyMS, &r.State, &r.Ticks); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't read result history", "")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't read result history", "")
	}
	return out, nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, started_at, finished_at, hosts, completed, aborted, results, failed
		FROM poll_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't query runs", "")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Hosts, &r.Completed, &r.Aborted, &r.Results, &r.Failed); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't read runs", "")
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't read runs", "")
	}
	return out, nil
}
