package store

import (
	"context"
	"sync"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
	"github.com/devpoll/devpoll/internal/poll"
)

// Writer defaults.
const (
	DefaultBatchSize     = 50
	DefaultFlushInterval = time.Second
)

const insertResult = `INSERT INTO poll_results
	(run_id, host, seq, is_end, address, command, ts, output, error_kind, error, latency_ms, state, ticks)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING`

// RunWriter is a sink that records one run. Results are buffered and
// inserted in batches from a background goroutine; Close flushes the rest
// and stamps the run's totals.
type RunWriter struct {
	store   *Store
	runID   string
	log     logger.Logger
	summary *poll.Summary

	ch        chan poll.PollResult
	done      chan struct{}
	batchSize int
	interval  time.Duration

	// mu serializes Write against Close so nothing is sent on a closed channel.
	mu     sync.Mutex
	closed bool

	errMu    sync.Mutex
	firstErr error
}

// WriterOptions tune batching. Zero values use the defaults.
type WriterOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Log           logger.Logger
}

// StartRun inserts the run row and returns a writer for its results.
func (s *Store) StartRun(ctx context.Context, runID string, jobs []poll.PollJob, opts WriterOptions) (*RunWriter, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Log == nil {
		opts.Log = logger.Noop()
	}

	summary := poll.NewSummary(jobs)
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO poll_runs (id, started_at, hosts) VALUES (?, ?, ?)`),
		runID, summary.Started.UTC(), len(jobs))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't record run "+runID, "")
	}

	w := &RunWriter{
		store:     s,
		runID:     runID,
		log:       opts.Log,
		summary:   summary,
		ch:        make(chan poll.PollResult, opts.BatchSize*4),
		done:      make(chan struct{}),
		batchSize: opts.BatchSize,
		interval:  opts.FlushInterval,
	}
	go w.loop()
	return w, nil
}

// RunID returns the run this writer records.
func (w *RunWriter) RunID() string {
	return w.runID
}

// Write queues r. It blocks when the buffer is full rather than drop a
// result, and reports an earlier flush failure if there was one.
func (w *RunWriter) Write(r poll.PollResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New(errors.ErrSink, "Result store writer is closed", "")
	}
	w.summary.Add(r)
	w.ch <- r
	return w.err()
}

func (w *RunWriter) err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.firstErr
}

func (w *RunWriter) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]poll.PollResult, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.insert(batch); err != nil {
			w.log.Warn("store: dropped %d results: %v", len(batch), errors.OneLine(err))
			w.errMu.Lock()
			if w.firstErr == nil {
				w.firstErr = err
			}
			w.errMu.Unlock()
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-w.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *RunWriter) insert(batch []poll.PollResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't begin store transaction", "")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, w.store.rebind(insertResult))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't prepare result insert", "")
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.ExecContext(ctx, resultArgs(w.runID, r)...); err != nil {
			return errors.WrapWithCode(err, errors.ErrSink, "Can't insert result for "+r.Host, "")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't commit results", "")
	}
	return nil
}

func resultArgs(runID string, r poll.PollResult) []any {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var state string
	var ticks int
	if r.End {
		state = r.State.String()
		ticks = r.Ticks
	}
	return []any{
		runID, r.Host, r.Seq, r.End, r.Address, r.Command, ts.UTC(),
		r.Output, r.Kind.String(), r.ErrString(),
		float64(r.Latency.Microseconds()) / 1000, state, ticks,
	}
}

// Close flushes buffered results and stamps the run's totals.
func (w *RunWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	<-w.done

	w.summary.Finish()
	completed, aborted := w.summary.Counts()
	total, failed := w.summary.Results()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := w.store.db.ExecContext(ctx, w.store.rebind(
		`UPDATE poll_runs SET finished_at = ?, completed = ?, aborted = ?, results = ?, failed = ? WHERE id = ?`),
		w.summary.Finished.UTC(), completed, aborted, total, failed, w.runID)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't finish run "+w.runID, "")
	}
	return w.err()
}
