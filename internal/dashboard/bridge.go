package dashboard

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/devpoll/devpoll/internal/poll"
)

type sender interface {
	Send(msg tea.Msg)
}

// Bridge is a sink that forwards results to the Bubble Tea program via
// program.Send(). This is goroutine-safe.
type Bridge struct {
	program sender
}

// NewBridge creates a new bridge that forwards results to the given program.
func NewBridge(program *tea.Program) *Bridge {
	return &Bridge{program: program}
}

// Write forwards r to the TUI.
func (b *Bridge) Write(r poll.PollResult) error {
	b.program.Send(ResultMsg{Result: r})
	return nil
}

// Close implements io.Closer.
func (b *Bridge) Close() error {
	return nil
}

// Done tells the TUI the run is over.
func (b *Bridge) Done(summary *poll.Summary, err error) {
	b.program.Send(RunDoneMsg{Summary: summary, Err: err})
}
