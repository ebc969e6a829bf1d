package testing

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/devpoll/devpoll/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Error    error
	// Delay holds the response back, honouring ctx cancellation.
	Delay time.Duration
}

// MockClient simulates an SSH connection for testing.
// Commands without a registered response echo back with exit code 0.
type MockClient struct {
	mu       sync.Mutex
	host     string
	address  string
	closed   bool
	dead     bool
	commands map[string]CommandResponse // pattern -> response
	calls    []string
}

var _ sshutil.SSHClient = (*MockClient)(nil)

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		commands: make(map[string]CommandResponse),
	}
}

// ExecContext returns the registered response for cmd. Exact matches win
// over regex patterns.
func (m *MockClient) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	m.mu.Lock()
	if m.closed || m.dead {
		m.mu.Unlock()
		return nil, nil, -1, errors.New("connection closed")
	}
	m.calls = append(m.calls, cmd)
	resp, ok := m.commands[cmd]
	if !ok {
		for pattern, r := range m.commands {
			if matched, _ := regexp.MatchString(pattern, cmd); matched {
				resp, ok = r, true
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return []byte(cmd + "\n"), nil, 0, nil
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, nil, -1, ctx.Err()
		case <-timer.C:
		}
	}

	return resp.Stdout, resp.Stderr, resp.ExitCode, resp.Error
}

// Alive reports false once the client is closed or marked dead.
func (m *MockClient) Alive(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && !m.dead
}

// SetDead simulates the peer dropping the connection: Alive reports false
// and commands fail.
func (m *MockClient) SetDead(dead bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = dead
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[pattern] = resp
}

// Calls returns the commands executed so far, in order.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
