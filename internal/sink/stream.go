package sink

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/devpoll/devpoll/internal/poll"
	"github.com/devpoll/devpoll/internal/ui"
)

// Stream prints results as they arrive, each line prefixed with [host].
type Stream struct {
	w          io.Writer
	mu         sync.Mutex
	showOutput bool

	hostStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
	successStyle lipgloss.Style
	errorStyle   lipgloss.Style
	warnStyle    lipgloss.Style
}

// StreamOptions controls Stream rendering.
type StreamOptions struct {
	NoColor bool
	// HideOutput prints only the status line per result.
	HideOutput bool
}

// NewStream creates a stream sink writing to w.
func NewStream(w io.Writer, opts StreamOptions) *Stream {
	r := lipgloss.NewRenderer(w)
	if opts.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Stream{
		w:            w,
		showOutput:   !opts.HideOutput,
		hostStyle:    r.NewStyle().Foreground(ui.ColorSecondary),
		mutedStyle:   r.NewStyle().Foreground(ui.ColorMuted),
		successStyle: r.NewStyle().Foreground(ui.ColorSuccess),
		errorStyle:   r.NewStyle().Foreground(ui.ColorError),
		warnStyle:    r.NewStyle().Foreground(ui.ColorWarning),
	}
}

func (s *Stream) Write(r poll.PollResult) error {
	var b strings.Builder
	prefix := s.hostStyle.Render("[" + r.Host + "]")

	switch {
	case r.End:
		sym, style := ui.SymbolComplete, s.successStyle
		if r.State == poll.StateAborted {
			sym, style = ui.SymbolSkipped, s.warnStyle
		}
		fmt.Fprintf(&b, "%s %s %s after %d %s\n", prefix,
			style.Render(sym), style.Render(r.State.String()), r.Ticks, plural(r.Ticks, "tick", "ticks"))

	case r.Failed():
		fmt.Fprintf(&b, "%s %s %s %s %s\n", prefix,
			s.mutedStyle.Render(fmt.Sprintf("#%d", r.Seq)),
			s.errorStyle.Render(ui.SymbolFail),
			s.errorStyle.Render(r.Kind.String()+":"),
			r.ErrString())

	default:
		fmt.Fprintf(&b, "%s %s %s %s\n", prefix,
			s.mutedStyle.Render(fmt.Sprintf("#%d", r.Seq)),
			s.successStyle.Render(ui.SymbolSuccess),
			s.mutedStyle.Render(FormatDuration(r.Latency)))
	}

	if s.showOutput && !r.End && r.Output != "" {
		linePrefix := s.mutedStyle.Render("[" + r.Host + "]")
		for _, line := range strings.Split(strings.TrimRight(r.Output, "\r\n"), "\n") {
			fmt.Fprintf(&b, "%s %s\n", linePrefix, strings.TrimRight(line, "\r"))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, b.String())
	return err
}

// Close implements Sink.
func (s *Stream) Close() error {
	return nil
}

// FormatDuration formats a latency for display.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		mins := int(d.Minutes())
		return fmt.Sprintf("%dm%.1fs", mins, d.Seconds()-float64(mins)*60)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
