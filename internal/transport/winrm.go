package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/masterzen/winrm"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
)

const (
	winrmHTTPPort  = 5985
	winrmHTTPSPort = 5986
)

// WinRMOptions configures the WinRM transport.
type WinRMOptions struct {
	HTTPS    bool
	Insecure bool
	Timeout  time.Duration
}

// winrmRunner is the part of *winrm.Client a session needs.
type winrmRunner interface {
	RunWithContextWithString(ctx context.Context, command string, stdin string) (string, string, int, error)
}

type winrmFactory func(endpoint *winrm.Endpoint, user, password string, ntlm bool) (winrmRunner, error)

// WinRM runs commands over WS-Management. Every command is its own shell,
// so nothing is gained by keeping a session.
type WinRM struct {
	opts      WinRMOptions
	newClient winrmFactory
}

// NewWinRM creates the WinRM transport.
func NewWinRM(opts WinRMOptions) *WinRM {
	return &WinRM{opts: opts, newClient: newWinRMClient}
}

func newWinRMClient(endpoint *winrm.Endpoint, user, password string, ntlm bool) (winrmRunner, error) {
	if ntlm {
		params := winrm.DefaultParameters
		params.TransportDecorator = func() winrm.Transporter { return &winrm.ClientNTLM{} }
		return winrm.NewClientWithParameters(endpoint, user, password, params)
	}
	return winrm.NewClient(endpoint, user, password)
}

// ReusableSessions implements poll.Transport.
func (t *WinRM) ReusableSessions() bool {
	return false
}

// Open builds a client for host. No traffic is sent until Run.
func (t *WinRM) Open(_ context.Context, host poll.Host, cred poll.Credential) (poll.Session, error) {
	if cred.Username == "" {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("No username for WinRM host %s", host.ID()),
			"Set username on the host's credential")
	}

	port := host.Port
	if port == 0 {
		port = winrmHTTPPort
		if t.opts.HTTPS {
			port = winrmHTTPSPort
		}
	}

	endpoint := winrm.NewEndpoint(host.Address, port, t.opts.HTTPS, t.opts.Insecure, nil, nil, nil, t.opts.Timeout)
	client, err := t.newClient(endpoint, cred.Username, cred.Password, usesNTLM(cred.Username))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("Cannot create WinRM client for %s", host.ID()), "")
	}
	return &winrmSession{client: client, host: host.ID()}, nil
}

// usesNTLM reports whether user is a domain account (DOMAIN\user or user@domain).
func usesNTLM(user string) bool {
	return strings.Contains(user, `\`) || strings.Contains(user, "@")
}

type winrmSession struct {
	client winrmRunner
	host   string
}

func (s *winrmSession) Run(ctx context.Context, command string) (string, error) {
	stdout, stderr, code, err := s.client.RunWithContextWithString(ctx, command, "")
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
				fmt.Sprintf("WinRM command on %s timed out", s.host), "")
		}
		return "", errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("WinRM request to %s failed", s.host),
			"Check that WinRM is enabled and the port is reachable")
	}

	out := stdout + stderr
	if code != 0 {
		return out, errors.New(errors.ErrExec,
			fmt.Sprintf("%q exited with status %d", command, code), "")
	}
	return out, nil
}

func (s *winrmSession) Close() error {
	return nil
}
