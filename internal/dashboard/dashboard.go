// Package dashboard provides a full-screen Bubble Tea view of a poll run:
// one row per host with its progress, latency trend and last error.
package dashboard

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/devpoll/devpoll/internal/poll"
)

// RunFunc polls with the dashboard's sink attached and returns the summary.
type RunFunc func(ctx context.Context, sink poll.Sink) (*poll.Summary, error)

type runResult struct {
	summary *poll.Summary
	err     error
}

// Run starts the dashboard and the run. The run goes in a background
// goroutine while the TUI owns the terminal. Quitting the TUI cancels the
// run; Run returns once the run has wound down.
func Run(ctx context.Context, jobs []poll.PollJob, run RunFunc, opts ...tea.ProgramOption) (*poll.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewModel(jobs, cancel)
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	program := tea.NewProgram(model, opts...)
	bridge := NewBridge(program)

	resultChan := make(chan runResult, 1)
	go func() {
		summary, err := run(ctx, bridge)
		resultChan <- runResult{summary: summary, err: err}
		bridge.Done(summary, err)
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-resultChan
		return nil, err
	}

	r := <-resultChan
	return r.summary, r.err
}
