package sshutil_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/pkg/sshutil"
	sshtesting "github.com/devpoll/devpoll/pkg/sshutil/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *sshtesting.Server {
	t.Helper()
	srv, err := sshtesting.NewServer("admin", "secret", func(cmd string) sshtesting.Reply {
		switch {
		case cmd == "display version":
			return sshtesting.Reply{Stdout: "VRP (R) software, Version 8.180\n"}
		case cmd == "false":
			return sshtesting.Reply{Stderr: "failed\n", ExitCode: 1}
		case strings.HasPrefix(cmd, "sleep"):
			return sshtesting.Reply{Stdout: "late\n", Delay: 2 * time.Second}
		default:
			return sshtesting.Reply{Stdout: cmd + "\n"}
		}
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func dialOpts(password string) sshutil.DialOptions {
	return sshutil.DialOptions{
		User:                  "admin",
		Password:              password,
		Timeout:               2 * time.Second,
		InsecureIgnoreHostKey: true,
		SSHConfigFile:         "-",
	}
}

func TestDialAndExec(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startServer(t)

	client, err := sshutil.Dial(context.Background(), srv.Addr, dialOpts("secret"))
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, srv.Addr, client.GetHost())
	assert.Equal(t, srv.Addr, client.GetAddress())

	stdout, _, code, err := client.ExecContext(context.Background(), "display version")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, string(stdout), "VRP")

	// A second command reuses the same connection.
	_, stderr, code, err := client.ExecContext(context.Background(), "false")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Equal(t, "failed\n", string(stderr))

	assert.True(t, client.Alive(context.Background()))
	assert.Equal(t, 1, srv.Handshakes())
	assert.Equal(t, 2, srv.Execs())
}

func TestExecContext_Timeout(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startServer(t)

	client, err := sshutil.Dial(context.Background(), srv.Addr, dialOpts("secret"))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, code, err := client.ExecContext(ctx, "sleep 2")
	require.Error(t, err)
	assert.Equal(t, -1, code)
	assert.True(t, errors.IsCode(err, errors.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestDial_WrongPassword(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startServer(t)

	_, err := sshutil.Dial(context.Background(), srv.Addr, dialOpts("wrong"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	assert.Contains(t, err.Error(), "handshake")
}

func TestDial_Refused(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startServer(t)
	addr := srv.Addr
	require.NoError(t, srv.Close())

	_, err := sshutil.Dial(context.Background(), addr, dialOpts("secret"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can't reach")
}

func TestExecContext_DroppedConnectionIsSSHError(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	srv := startServer(t)

	client, err := sshutil.Dial(context.Background(), srv.Addr, dialOpts("secret"))
	require.NoError(t, err)
	defer client.Close()

	srv.DropConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Eventually(t, func() bool { return !client.Alive(ctx) }, time.Second, 10*time.Millisecond)

	_, _, code, err := client.ExecContext(ctx, "display version")
	require.Error(t, err)
	assert.Equal(t, -1, code)
	assert.True(t, errors.IsCode(err, errors.ErrSSH), "a dead connection must not look like a command failure")
}

func TestCloseAgent_WithoutAgent(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	assert.NotPanics(t, func() {
		sshutil.CloseAgent()
		sshutil.CloseAgent()
	})
}
