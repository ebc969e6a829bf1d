package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := Open(context.Background(), "sqlite:"+path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func result(host string, seq int, failed bool) poll.PollResult {
	r := poll.PollResult{
		Host: host, Address: "10.0.0.1", Command: "display version",
		Seq: seq, Timestamp: t0.Add(time.Duration(seq) * 5 * time.Second),
		Output: "Uptime 3 weeks", Latency: 1500 * time.Microsecond,
	}
	if failed {
		r.Output = ""
		r.Kind = poll.KindTimeout
		r.Err = errors.New(errors.ErrTimeout, "Command timed out", "")
	}
	return r
}

func jobsFor(hosts ...string) []poll.PollJob {
	var jobs []poll.PollJob
	for _, h := range hosts {
		jobs = append(jobs, poll.PollJob{Host: poll.Host{Name: h, Address: "10.0.0.1"}})
	}
	return jobs
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		driver  string
		conn    string
		dialect string
		wantErr bool
	}{
		{dsn: "sqlite:results.db", driver: "sqlite", conn: "results.db", dialect: DialectSQLite},
		{dsn: "sqlite:///var/lib/devpoll.db", driver: "sqlite", conn: "/var/lib/devpoll.db", dialect: DialectSQLite},
		{dsn: "results.db", driver: "sqlite", conn: "results.db", dialect: DialectSQLite},
		{dsn: "postgres://u:p@db/devpoll", driver: "pgx", conn: "postgres://u:p@db/devpoll", dialect: DialectPostgres},
		{dsn: "postgresql://db/devpoll", driver: "pgx", conn: "postgresql://db/devpoll", dialect: DialectPostgres},
		{dsn: "mysql://db/devpoll", wantErr: true},
		{dsn: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, conn, dialect, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.conn, conn)
			assert.Equal(t, tt.dialect, dialect)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))
	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpen_MigratesOnce(t *testing.T) {
	s, path := openTemp(t)
	assert.Equal(t, DialectSQLite, s.Dialect())

	again, err := Open(context.Background(), path)
	require.NoError(t, err, "reopening an up-to-date database is fine")
	require.NoError(t, again.Close())
}

func TestRunWriter(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	w, err := s.StartRun(ctx, "run-1", jobsFor("core-1", "core-2"), WriterOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "run-1", w.RunID())

	require.NoError(t, w.Write(result("core-1", 0, false)))
	require.NoError(t, w.Write(result("core-1", 1, true)))
	require.NoError(t, w.Write(result("core-2", 0, false)))
	require.NoError(t, w.Write(poll.PollResult{Host: "core-1", End: true, State: poll.StateCompleted, Ticks: 2, Seq: 2, Timestamp: t0}))
	require.NoError(t, w.Write(poll.PollResult{Host: "core-2", End: true, State: poll.StateAborted, Ticks: 1, Seq: 1, Timestamp: t0}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Write(result("core-1", 9, false)))

	rows, err := s.History(ctx, HistoryQuery{Host: "core-1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Seq, "newest first")
	assert.True(t, rows[0].Failed())
	assert.Equal(t, "timeout", rows[0].ErrorKind)
	assert.Equal(t, "Command timed out", rows[0].Error)
	assert.Equal(t, "Uptime 3 weeks", rows[1].Output)
	assert.InDelta(t, 1.5, rows[1].LatencyMS, 0.0001)
	assert.True(t, rows[1].Timestamp.Equal(t0))

	withEnd, err := s.History(ctx, HistoryQuery{RunID: "run-1", IncludeEnd: true})
	require.NoError(t, err)
	assert.Len(t, withEnd, 5)

	limited, err := s.History(ctx, HistoryQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 2, run.Hosts)
	assert.Equal(t, 1, run.Completed)
	assert.Equal(t, 1, run.Aborted)
	assert.Equal(t, 3, run.Results)
	assert.Equal(t, 1, run.Failed)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestRunWriter_FlushesOnInterval(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()

	w, err := s.StartRun(ctx, "run-2", jobsFor("core-1"), WriterOptions{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(result("core-1", 0, false)))
	assert.Eventually(t, func() bool {
		rows, err := s.History(ctx, HistoryQuery{RunID: "run-2"})
		return err == nil && len(rows) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartRun_DuplicateID(t *testing.T) {
	s, _ := openTemp(t)
	w, err := s.StartRun(context.Background(), "dup", nil, WriterOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = s.StartRun(context.Background(), "dup", nil, WriterOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSink))
}
