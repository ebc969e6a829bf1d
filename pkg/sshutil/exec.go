package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"

	"github.com/devpoll/devpoll/internal/errors"
	"golang.org/x/crypto/ssh"
)

// ExecContext runs a command on its own exec channel and returns stdout,
// stderr and the exit code. A non-zero exit code with a nil error means the
// command ran but failed.
//
// When ctx is done before the command finishes the channel is closed and an
// ErrTimeout error wrapping ctx.Err() is returned. Any other failure to run
// the command is an ErrSSH error: the connection can't be trusted and the
// caller should discard it.
func (c *Client) ExecContext(ctx context.Context, cmd string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.Client.NewSession()
	if err != nil {
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, nil, -1, errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			fmt.Sprintf("Command did not finish in time: %s", cmd),
			"Raise the command timeout or check the device's load")
	case err := <-done:
		if err == nil {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
		}
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitStatus(), nil
		}
		// Many network OSes close the channel without an exit-status.
		var missing *ssh.ExitMissingError
		if stderrors.As(err, &missing) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
		}
		return nil, nil, -1, errors.WrapWithCode(err, errors.ErrSSH,
			fmt.Sprintf("Connection lost while running: %s", cmd),
			"The device may have dropped the session. It is reopened on the next poll.")
	}
}
