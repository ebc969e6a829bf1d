package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

// Protocol names accepted on Host.Protocol.
const (
	ProtocolSSH   = "ssh"
	ProtocolWinRM = "winrm"
	ProtocolSNMP  = "snmp"
)

// Mux dispatches each host to the transport registered for its protocol.
type Mux struct {
	transports map[string]poll.Transport
	fallback   string
}

// NewMux creates an empty mux. Hosts without a protocol use fallback.
func NewMux(fallback string) *Mux {
	return &Mux{transports: make(map[string]poll.Transport), fallback: fallback}
}

// Options bundles the settings for the built-in transports.
type Options struct {
	SSH   SSHOptions
	WinRM WinRMOptions
	SNMP  SNMPOptions
}

// Default returns a mux with ssh, winrm and snmp registered and ssh as the fallback.
func Default(opts Options) *Mux {
	m := NewMux(ProtocolSSH)
	m.Register(ProtocolSSH, NewSSH(opts.SSH))
	m.Register(ProtocolWinRM, NewWinRM(opts.WinRM))
	m.Register(ProtocolSNMP, NewSNMP(opts.SNMP))
	return m
}

// Register adds or replaces the transport for protocol.
func (m *Mux) Register(protocol string, t poll.Transport) {
	m.transports[strings.ToLower(protocol)] = t
}

// Protocols returns the registered protocol names, sorted.
func (m *Mux) Protocols() []string {
	names := make([]string, 0, len(m.transports))
	for name := range m.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the transport for protocol; "" means the fallback.
func (m *Mux) Lookup(protocol string) (poll.Transport, error) {
	p := strings.ToLower(strings.TrimSpace(protocol))
	if p == "" {
		p = m.fallback
	}
	t, ok := m.transports[p]
	if !ok {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown protocol %q", protocol),
			fmt.Sprintf("Use one of: %s", strings.Join(m.Protocols(), ", ")))
	}
	return t, nil
}

// Open implements poll.Transport.
func (m *Mux) Open(ctx context.Context, host poll.Host, cred poll.Credential) (poll.Session, error) {
	t, err := m.Lookup(host.Protocol)
	if err != nil {
		return nil, err
	}
	return t.Open(ctx, host, cred)
}

// ReusableSessions reports the fallback transport's answer.
func (m *Mux) ReusableSessions() bool {
	t, err := m.Lookup("")
	return err == nil && t.ReusableSessions()
}

// ReusableSessionsFor implements poll.HostReuser.
func (m *Mux) ReusableSessionsFor(host poll.Host) bool {
	t, err := m.Lookup(host.Protocol)
	return err == nil && t.ReusableSessions()
}
