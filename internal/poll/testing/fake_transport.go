// Package testing provides a scripted Transport for exercising the polling
// engine without a network.
package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devpoll/devpoll/internal/poll"
)

// Response is what one Run call on a fake session produces.
type Response struct {
	Output string
	Err    error
	// Delay holds the response back until it elapses or ctx is done.
	Delay time.Duration
}

// Handler scripts Run. call counts from 0 per host across all sessions.
type Handler func(host poll.Host, call int, command string) Response

// OpenHandler scripts Open. attempt counts from 0 per host.
type OpenHandler func(host poll.Host, attempt int) error

// AliveHandler scripts liveness checks on held sessions. check counts from
// 0 per host.
type AliveHandler func(host poll.Host, check int) bool

// FakeTransport is an in-memory poll.Transport that records what the
// engine does with it.
type FakeTransport struct {
	Reusable bool
	OnRun    Handler
	OnOpen   OpenHandler
	OnAlive  AliveHandler

	mu       sync.Mutex
	opens    map[string]int
	closes   map[string]int
	calls    map[string]int
	checks   map[string]int
	commands map[string][]string
	open     int
	peakOpen int
}

var _ poll.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a transport whose sessions echo the command.
func NewFakeTransport(reusable bool) *FakeTransport {
	return &FakeTransport{
		Reusable: reusable,
		opens:    make(map[string]int),
		closes:   make(map[string]int),
		calls:    make(map[string]int),
		checks:   make(map[string]int),
		commands: make(map[string][]string),
	}
}

// ReusableSessions implements poll.Transport.
func (f *FakeTransport) ReusableSessions() bool {
	return f.Reusable
}

// Open implements poll.Transport.
func (f *FakeTransport) Open(ctx context.Context, host poll.Host, _ poll.Credential) (poll.Session, error) {
	f.mu.Lock()
	attempt := f.opens[host.ID()]
	f.opens[host.ID()]++
	onOpen := f.OnOpen
	f.mu.Unlock()

	if onOpen != nil {
		if err := onOpen(host, attempt); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.open++
	if f.open > f.peakOpen {
		f.peakOpen = f.open
	}
	f.mu.Unlock()

	return &fakeSession{transport: f, host: host}, nil
}

// Opens returns how many times Open was called for host.
func (f *FakeTransport) Opens(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[host]
}

// Closes returns how many sessions to host were closed.
func (f *FakeTransport) Closes(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes[host]
}

// Calls returns how many commands were run on host.
func (f *FakeTransport) Calls(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[host]
}

// Checks returns how many liveness checks were made on host's sessions.
func (f *FakeTransport) Checks(host string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks[host]
}

// Commands returns the commands run on host, in order.
func (f *FakeTransport) Commands(host string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands[host]...)
}

// OpenSessions returns the number of sessions not yet closed.
func (f *FakeTransport) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// PeakOpenSessions returns the highest number of simultaneously open sessions.
func (f *FakeTransport) PeakOpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peakOpen
}

type fakeSession struct {
	transport *FakeTransport
	host      poll.Host
	closeOnce sync.Once
}

var _ poll.AliveChecker = (*fakeSession)(nil)

// Alive reports true unless OnAlive says otherwise.
func (s *fakeSession) Alive(context.Context) bool {
	f := s.transport
	f.mu.Lock()
	check := f.checks[s.host.ID()]
	f.checks[s.host.ID()]++
	onAlive := f.OnAlive
	f.mu.Unlock()

	if onAlive == nil {
		return true
	}
	return onAlive(s.host, check)
}

func (s *fakeSession) Run(ctx context.Context, command string) (string, error) {
	f := s.transport
	id := s.host.ID()

	f.mu.Lock()
	call := f.calls[id]
	f.calls[id]++
	f.commands[id] = append(f.commands[id], command)
	onRun := f.OnRun
	f.mu.Unlock()

	resp := Response{Output: fmt.Sprintf("%s: %s\n", id, command)}
	if onRun != nil {
		resp = onRun(s.host, call, command)
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return resp.Output, resp.Err
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() {
		f := s.transport
		f.mu.Lock()
		f.closes[s.host.ID()]++
		f.open--
		f.mu.Unlock()
	})
	return nil
}
