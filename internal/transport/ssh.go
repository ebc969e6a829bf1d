package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/poll"
	"github.com/devpoll/devpoll/pkg/sshutil"
)

// SSHOptions configures the SSH transport.
type SSHOptions struct {
	DialTimeout    time.Duration
	KnownHostsFile string
	SSHConfigFile  string
}

type dialFunc func(ctx context.Context, host string, opts sshutil.DialOptions) (sshutil.SSHClient, error)

// SSH runs commands on their own exec channel over one connection per host.
type SSH struct {
	opts SSHOptions
	dial dialFunc
}

// NewSSH creates the SSH transport.
func NewSSH(opts SSHOptions) *SSH {
	return &SSH{
		opts: opts,
		dial: func(ctx context.Context, host string, o sshutil.DialOptions) (sshutil.SSHClient, error) {
			return sshutil.Dial(ctx, host, o)
		},
	}
}

// ReusableSessions implements poll.Transport.
func (t *SSH) ReusableSessions() bool {
	return true
}

// Open dials the host. Address may be an ssh_config alias.
func (t *SSH) Open(ctx context.Context, host poll.Host, cred poll.Credential) (poll.Session, error) {
	client, err := t.dial(ctx, host.Address, sshutil.DialOptions{
		User:                  cred.Username,
		Port:                  host.Port,
		Password:              cred.Password,
		KeyFile:               cred.KeyFile,
		Passphrase:            cred.Passphrase,
		Timeout:               t.opts.DialTimeout,
		KnownHostsFile:        t.opts.KnownHostsFile,
		InsecureIgnoreHostKey: cred.InsecureHostKey,
		SSHConfigFile:         t.opts.SSHConfigFile,
	})
	if err != nil {
		return nil, err
	}
	return &sshSession{client: client, dialect: DialectFor(host.DeviceType)}, nil
}

var _ poll.AliveChecker = (*sshSession)(nil)

type sshSession struct {
	client  sshutil.SSHClient
	dialect Dialect
}

// Run executes command and folds stderr into the output. A non-zero exit
// status or a dialect error marker is an EXEC error that still carries the
// output.
func (s *sshSession) Run(ctx context.Context, command string) (string, error) {
	stdout, stderr, code, err := s.client.ExecContext(ctx, command)
	if err != nil {
		return "", err
	}

	out := string(stdout)
	if len(stderr) > 0 {
		out += string(stderr)
	}

	if code != 0 {
		return out, errors.New(errors.ErrExec,
			fmt.Sprintf("%q exited with status %d", command, code), "")
	}
	if line := s.dialect.DetectError(out); line != "" {
		return out, errors.New(errors.ErrExec,
			fmt.Sprintf("Device rejected %q: %s", command, line),
			fmt.Sprintf("Check the command syntax for %s devices", s.dialect.Name))
	}
	return out, nil
}

// Alive implements poll.AliveChecker.
func (s *sshSession) Alive(ctx context.Context) bool {
	return s.client.Alive(ctx)
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
