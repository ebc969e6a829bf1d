package sink

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

// Record is the serialized form of a PollResult shared by the JSON and
// log-dir sinks.
type Record struct {
	RunID     string         `json:"run_id,omitempty"`
	Host      string         `json:"host"`
	Address   string         `json:"address,omitempty"`
	Command   string         `json:"command,omitempty"`
	Seq       int            `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Output    string         `json:"output,omitempty"`
	Kind      poll.ErrorKind `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	LatencyMS float64        `json:"latency_ms"`
	End       bool           `json:"end,omitempty"`
	State     string         `json:"state,omitempty"`
	Ticks     int            `json:"ticks,omitempty"`
}

// NewRecord converts r for serialization.
func NewRecord(runID string, r poll.PollResult) Record {
	rec := Record{
		RunID:     runID,
		Host:      r.Host,
		Address:   r.Address,
		Command:   r.Command,
		Seq:       r.Seq,
		Timestamp: r.Timestamp,
		Output:    r.Output,
		Kind:      r.Kind,
		Error:     r.ErrString(),
		LatencyMS: float64(r.Latency.Microseconds()) / 1000,
		End:       r.End,
	}
	if r.End {
		rec.State = r.State.String()
		rec.Ticks = r.Ticks
	}
	return rec
}

// JSONLines writes one JSON object per result.
type JSONLines struct {
	runID string
	mu    sync.Mutex
	enc   *json.Encoder
	c     io.Closer
}

// NewJSONLines writes to w, which the sink never closes.
func NewJSONLines(w io.Writer, runID string) *JSONLines {
	return &JSONLines{runID: runID, enc: json.NewEncoder(w)}
}

// CreateJSONLines appends to the file at path. Close closes the file.
func CreateJSONLines(path, runID string) (*JSONLines, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink, "Can't open "+path, "Check the path and permissions")
	}
	j := NewJSONLines(f, runID)
	j.c = f
	return j, nil
}

func (j *JSONLines) Write(r poll.PollResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(NewRecord(j.runID, r)); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't write JSON result", "")
	}
	return nil
}

func (j *JSONLines) Close() error {
	if j.c == nil {
		return nil
	}
	return j.c.Close()
}
