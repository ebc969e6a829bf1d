// Package sink holds the poll.Sink implementations that record results:
// terminal stream, JSON lines, CSV, per-host log files, and a fan-out.
package sink

import (
	"io"
	"sync"

	"github.com/devpoll/devpoll/internal/poll"
)

// Sink is a poll.Sink that may hold resources.
type Sink interface {
	poll.Sink
	io.Closer
}

// Multi forwards every result to all sinks. Write keeps going after a
// failing sink and returns the first error.
type Multi struct {
	sinks []poll.Sink
}

// NewMulti creates a fan-out over sinks. Nil sinks are dropped.
func NewMulti(sinks ...poll.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s poll.Sink) {
	if s != nil {
		m.sinks = append(m.sinks, s)
	}
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Write(r poll.PollResult) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Write(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink that is an io.Closer, in reverse order.
func (m *Multi) Close() error {
	var first error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if c, ok := m.sinks[i].(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Discard drops every result.
var Discard poll.Sink = poll.SinkFunc(func(poll.PollResult) error { return nil })

// Memory keeps every result it is given. Useful in tests and for the
// summary pass after a run.
type Memory struct {
	mu      sync.Mutex
	results []poll.PollResult
}

func (m *Memory) Write(r poll.PollResult) error {
	m.mu.Lock()
	m.results = append(m.results, r)
	m.mu.Unlock()
	return nil
}

// Results returns a copy of what was written.
func (m *Memory) Results() []poll.PollResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]poll.PollResult(nil), m.results...)
}
