package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

// LogDir writes each host's results to <base>/<run>/<host>.log and, on
// Close, a summary.json for the run.
type LogDir struct {
	base   string
	runDir string
	runID  string

	mu      sync.Mutex
	files   map[string]*os.File
	summary *poll.Summary
	closed  bool
}

// SummaryJSON is the structure written to summary.json.
type SummaryJSON struct {
	RunID     string              `json:"run_id"`
	StartTime time.Time           `json:"start_time"`
	EndTime   time.Time           `json:"end_time"`
	Duration  string              `json:"duration"`
	Results   int                 `json:"results"`
	Failed    int                 `json:"failed"`
	Hosts     []*poll.HostSummary `json:"hosts"`
}

// NewLogDir creates the run directory immediately. jobs fixes the host
// order in summary.json; hosts not among them are appended as seen.
func NewLogDir(baseDir, runID string, jobs []poll.PollJob) (*LogDir, error) {
	stamp := time.Now().Format("20060102-150405")
	runDir := filepath.Join(baseDir, fmt.Sprintf("%s-%s", stamp, shortID(runID)))

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink,
			"Can't create log directory "+runDir,
			"Check your permissions for "+baseDir)
	}
	return &LogDir{
		base:    baseDir,
		runDir:  runDir,
		runID:   runID,
		files:   make(map[string]*os.File),
		summary: poll.NewSummary(jobs),
	}, nil
}

// Dir returns the run directory.
func (l *LogDir) Dir() string {
	return l.runDir
}

func (l *LogDir) Write(r poll.PollResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New(errors.ErrSink, "Log directory sink is closed", "")
	}
	l.summary.Add(r)

	f, err := l.file(r.Host)
	if err != nil {
		return err
	}

	var b strings.Builder
	ts := r.Timestamp.Format("2006-01-02 15:04:05.000")
	switch {
	case r.End:
		fmt.Fprintf(&b, "%s END state=%s ticks=%d\n", ts, r.State, r.Ticks)
	case r.Failed():
		fmt.Fprintf(&b, "%s #%d %s latency=%s error=%s\n", ts, r.Seq, r.Kind, r.Latency.Round(time.Millisecond), r.ErrString())
	default:
		fmt.Fprintf(&b, "%s #%d ok latency=%s\n", ts, r.Seq, r.Latency.Round(time.Millisecond))
	}
	if !r.End && r.Output != "" {
		b.WriteString(r.Output)
		if !strings.HasSuffix(r.Output, "\n") {
			b.WriteByte('\n')
		}
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't write host log "+f.Name(), "")
	}
	return nil
}

func (l *LogDir) file(host string) (*os.File, error) {
	if f, ok := l.files[host]; ok {
		return f, nil
	}
	path := filepath.Join(l.runDir, SanitizeFilename(host)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrSink,
			"Can't open host log "+path, "Check your permissions")
	}
	l.files[host] = f
	return f, nil
}

// Close closes the host logs and writes summary.json.
func (l *LogDir) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}

	l.summary.Finish()
	total, failed := l.summary.Results()
	out := SummaryJSON{
		RunID:     l.runID,
		StartTime: l.summary.Started,
		EndTime:   l.summary.Finished,
		Duration:  l.summary.Duration().Round(time.Millisecond).String(),
		Results:   total,
		Failed:    failed,
		Hosts:     l.summary.Hosts,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't encode summary JSON", "")
	}
	path := filepath.Join(l.runDir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrSink, "Can't write summary file "+path, "Check your permissions")
	}
	return first
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SanitizeFilename replaces characters that aren't safe for filenames.
func SanitizeFilename(name string) string {
	return strings.Map(func(c rune) rune {
		switch c {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return c
	}, name)
}
