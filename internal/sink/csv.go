package sink

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

// CSVHeader is the column layout of the CSV sink.
var CSVHeader = []string{"run_id", "timestamp", "host", "address", "seq", "command", "status", "error_kind", "error", "latency_ms", "output"}

// CSV writes one row per result. End markers are not written. Rows are
// flushed as they are written so a killed run keeps what it had.
type CSV struct {
	runID string
	mu    sync.Mutex
	w     *csv.Writer
	c     io.Closer
}

// NewCSV writes the header, then rows, to w.
func NewCSV(w io.Writer, runID string) (*CSV, error) {
	s := &CSV{runID: runID, w: csv.NewWriter(w)}
	if err := s.writeRow(CSVHeader); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenCSV appends to the file at path, writing the header only when the
// file is new or empty.
func OpenCSV(path, runID string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't open CSV file "+path, "Check the --csv path and permissions")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't stat CSV file "+path, "")
	}

	s := &CSV{runID: runID, w: csv.NewWriter(f), c: f}
	if info.Size() == 0 {
		if err := s.writeRow(CSVHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *CSV) Write(r poll.PollResult) error {
	if r.End {
		return nil
	}
	status := "ok"
	if r.Failed() {
		status = "failed"
	}
	return s.writeRow([]string{
		s.runID,
		r.Timestamp.Format(time.RFC3339Nano),
		r.Host,
		r.Address,
		strconv.Itoa(r.Seq),
		r.Command,
		status,
		r.Kind.String(),
		r.ErrString(),
		strconv.FormatFloat(float64(r.Latency.Microseconds())/1000, 'f', 3, 64),
		r.Output,
	})
}

func (s *CSV) writeRow(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't write CSV row", "")
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't write CSV row", "")
	}
	return nil
}

// Close closes the underlying file when the sink opened it.
func (s *CSV) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
