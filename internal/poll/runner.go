package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
)

// Executor runs one command once. SessionRunner is the production implementation.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// SessionRunner owns the session to one host and runs commands on it.
// It never retries; every call is exactly one attempt.
type SessionRunner struct {
	host       Host
	cred       Credential
	transport  Transport
	persistent bool
	timeout    time.Duration
	log        logger.Logger

	session Session
}

// NewSessionRunner creates a runner. PolicyAuto resolves to persistent only
// when the transport supports reusable sessions for host. A zero timeout leaves
// commands unbounded.
func NewSessionRunner(host Host, cred Credential, transport Transport, policy SessionPolicy, timeout time.Duration, log logger.Logger) *SessionRunner {
	if log == nil {
		log = logger.Noop()
	}
	persistent := false
	switch policy {
	case PolicyPersistent:
		persistent = true
	case PolicyAuto, "":
		if hr, ok := transport.(HostReuser); ok {
			persistent = hr.ReusableSessionsFor(host)
		} else {
			persistent = transport.ReusableSessions()
		}
	}
	return &SessionRunner{
		host:       host,
		cred:       cred,
		transport:  transport,
		persistent: persistent,
		timeout:    timeout,
		log:        log,
	}
}

// Persistent reports whether the runner keeps its session between calls.
func (r *SessionRunner) Persistent() bool {
	return r.persistent
}

type runOutcome struct {
	output string
	err    error
}

// Execute runs command once. The timeout is measured from the call, and
// cancellation of ctx does not interrupt a command already in flight: only
// the timeout does. Errors carry a CONNECT, EXEC or TIMEOUT code.
func (r *SessionRunner) Execute(ctx context.Context, command string) (string, error) {
	cmdCtx := context.WithoutCancel(ctx)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(cmdCtx, r.timeout)
		defer cancel()
	}

	sess, err := r.acquire(cmdCtx)
	if err != nil {
		return "", err
	}

	resultCh := make(chan runOutcome, 1)
	go func() {
		out, err := sess.Run(cmdCtx, command)
		resultCh <- runOutcome{output: out, err: err}
	}()

	select {
	case <-cmdCtx.Done():
		r.discard(sess)
		return "", r.timeoutError(cmdCtx.Err())

	case res := <-resultCh:
		if res.err == nil {
			r.release(sess)
			return res.output, nil
		}

		classified := r.classify(res.err)
		switch KindOf(classified) {
		case KindTimeout, KindConnect:
			// The session may be half-dead; never hand it to the next tick.
			r.discard(sess)
		default:
			r.release(sess)
		}
		return res.output, classified
	}
}

// Close releases a held persistent session.
func (r *SessionRunner) Close() error {
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}

func (r *SessionRunner) acquire(ctx context.Context) (Session, error) {
	if r.persistent && r.session != nil {
		ac, ok := r.session.(AliveChecker)
		if !ok || ac.Alive(ctx) {
			return r.session, nil
		}
		r.log.Debug("held session to %s is dead, reopening", r.host.ID())
		r.discard(r.session)
	}

	start := time.Now()
	sess, err := r.transport.Open(ctx, r.host, r.cred)
	if err != nil {
		r.log.Debug("open failed after %s: %v", time.Since(start).Round(time.Millisecond), errors.OneLine(err))
		return nil, errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("Cannot open session to %s", r.host.ID()),
			"Check the address, port and credentials for this host")
	}
	r.log.Debug("session opened in %s", time.Since(start).Round(time.Millisecond))

	if r.persistent {
		r.session = sess
	}
	return sess, nil
}

func (r *SessionRunner) release(sess Session) {
	if r.persistent {
		return
	}
	if err := sess.Close(); err != nil {
		r.log.Debug("close session: %v", err)
	}
}

func (r *SessionRunner) discard(sess Session) {
	if r.persistent && r.session == sess {
		r.session = nil
		r.log.Debug("discarding persistent session")
	}
	// Close may block on a wedged transport; the command goroutine is
	// already abandoned, so don't hold up the tick for it.
	go func() {
		if err := sess.Close(); err != nil {
			r.log.Debug("close discarded session: %v", err)
		}
	}()
}

func (r *SessionRunner) timeoutError(cause error) error {
	return errors.WrapWithCode(cause, errors.ErrTimeout,
		fmt.Sprintf("Command on %s did not finish within %s", r.host.ID(), r.timeout),
		"Raise the timeout or check the device's CPU")
}

func (r *SessionRunner) classify(err error) error {
	switch KindOf(err) {
	case KindTimeout:
		if errors.CodeOf(err) == errors.ErrTimeout {
			return err
		}
		return r.timeoutError(err)
	case KindConnect:
		if errors.CodeOf(err) == errors.ErrConnect {
			return err
		}
		return errors.WrapWithCode(err, errors.ErrConnect,
			fmt.Sprintf("Lost session to %s", r.host.ID()), "")
	default:
		if errors.CodeOf(err) == errors.ErrExec {
			return err
		}
		return errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Command failed on %s", r.host.ID()), "")
	}
}
