package poll_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
	"github.com/devpoll/devpoll/internal/poll"
	polltesting "github.com/devpoll/devpoll/internal/poll/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var core1 = poll.Host{Name: "core-1", Address: "10.0.0.1"}

func TestSessionRunner_PolicyResolution(t *testing.T) {
	tests := []struct {
		name       string
		reusable   bool
		policy     poll.SessionPolicy
		persistent bool
	}{
		{"auto with reusable transport", true, poll.PolicyAuto, true},
		{"auto with single-shot transport", false, poll.PolicyAuto, false},
		{"empty means auto", true, "", true},
		{"per-call always closes", true, poll.PolicyPerCall, false},
		{"persistent forced", false, poll.PolicyPersistent, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := polltesting.NewFakeTransport(tt.reusable)
			r := poll.NewSessionRunner(core1, poll.Credential{}, tr, tt.policy, time.Second, nil)
			assert.Equal(t, tt.persistent, r.Persistent())
		})
	}
}

func TestSessionRunner_PerCallOpensEveryTime(t *testing.T) {
	tr := polltesting.NewFakeTransport(false)
	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPerCall, time.Second, nil)

	for i := 0; i < 3; i++ {
		out, err := r.Execute(context.Background(), "display version")
		require.NoError(t, err)
		assert.Equal(t, "core-1: display version\n", out)
	}

	assert.Equal(t, 3, tr.Opens("core-1"))
	assert.Equal(t, 3, tr.Closes("core-1"))
	assert.Equal(t, 0, tr.OpenSessions())
}

func TestSessionRunner_PersistentReusesSession(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPersistent, time.Second, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), "display cpu-usage")
		require.NoError(t, err)
	}

	assert.Equal(t, 1, tr.Opens("core-1"))
	assert.Equal(t, 0, tr.Closes("core-1"))

	require.NoError(t, r.Close())
	assert.Equal(t, 1, tr.Closes("core-1"))
	// Closing twice is harmless.
	require.NoError(t, r.Close())
}

func TestSessionRunner_OpenFailureIsConnectError(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	tr.OnOpen = func(poll.Host, int) error { return stderrors.New("dial tcp 10.0.0.1:22: connect: connection refused") }

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyAuto, time.Second, nil)
	_, err := r.Execute(context.Background(), "display version")

	require.Error(t, err)
	assert.Equal(t, poll.KindConnect, poll.KindOf(err))
	assert.True(t, errors.IsCode(err, errors.ErrConnect))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSessionRunner_ExecErrorKeepsSessionAndOutput(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	tr.OnRun = func(_ poll.Host, call int, cmd string) polltesting.Response {
		if call == 0 {
			return polltesting.Response{Output: "Error: Unrecognized command found at '^' position.\n", Err: stderrors.New("device rejected command")}
		}
		return polltesting.Response{Output: "ok\n"}
	}

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPersistent, time.Second, nil)

	out, err := r.Execute(context.Background(), "dis ver")
	require.Error(t, err)
	assert.Equal(t, poll.KindExec, poll.KindOf(err))
	assert.Contains(t, out, "Unrecognized command")

	out, err = r.Execute(context.Background(), "display version")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
	assert.Equal(t, 1, tr.Opens("core-1"), "an exec error doesn't cost the session")
}

func TestSessionRunner_TimeoutDiscardsPersistentSession(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	tr.OnRun = func(_ poll.Host, call int, _ string) polltesting.Response {
		if call == 0 {
			return polltesting.Response{Output: "late", Delay: time.Second}
		}
		return polltesting.Response{Output: "fresh"}
	}

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPersistent, 30*time.Millisecond, logger.NewBufferLogger())

	start := time.Now()
	out, err := r.Execute(context.Background(), "display version")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Empty(t, out)
	assert.Equal(t, poll.KindTimeout, poll.KindOf(err))
	assert.True(t, errors.IsCode(err, errors.ErrTimeout))

	assert.Eventually(t, func() bool { return tr.Closes("core-1") == 1 }, time.Second, 5*time.Millisecond)

	// The next call reopens transparently.
	out, err = r.Execute(context.Background(), "display version")
	require.NoError(t, err)
	assert.Equal(t, "fresh", out)
	assert.Equal(t, 2, tr.Opens("core-1"))
}

func TestSessionRunner_CancellationDoesNotCutInFlightCommand(t *testing.T) {
	tr := polltesting.NewFakeTransport(false)
	tr.OnRun = func(poll.Host, int, string) polltesting.Response {
		return polltesting.Response{Output: "done", Delay: 80 * time.Millisecond}
	}

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPerCall, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	out, err := r.Execute(ctx, "display version")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestSessionRunner_DeadHeldSessionReopensInSameCall(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	// The device drops the idle connection before every other tick.
	tr.OnAlive = func(_ poll.Host, check int) bool { return check%2 == 1 }

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyAuto, time.Second, nil)
	defer r.Close()

	for i := 0; i < 6; i++ {
		out, err := r.Execute(context.Background(), "display version")
		require.NoError(t, err, "call %d", i)
		assert.Equal(t, "core-1: display version\n", out)
	}

	// Checks happen on calls 1..5; checks 0, 2 and 4 find the session dead.
	assert.Equal(t, 5, tr.Checks("core-1"))
	assert.Equal(t, 4, tr.Opens("core-1"))
	assert.Equal(t, 6, tr.Calls("core-1"))
	assert.Eventually(t, func() bool { return tr.Closes("core-1") == 3 }, time.Second, 5*time.Millisecond)
}

func TestSessionRunner_PerCallSkipsLivenessCheck(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	tr.OnAlive = func(poll.Host, int) bool { return false }

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPerCall, time.Second, nil)
	for i := 0; i < 3; i++ {
		_, err := r.Execute(context.Background(), "display version")
		require.NoError(t, err)
	}
	assert.Zero(t, tr.Checks("core-1"))
	assert.Equal(t, 3, tr.Opens("core-1"))
}

func TestSessionRunner_LostConnectionDiscardsSession(t *testing.T) {
	tr := polltesting.NewFakeTransport(true)
	tr.OnRun = func(_ poll.Host, call int, _ string) polltesting.Response {
		if call == 0 {
			return polltesting.Response{Err: errors.New(errors.ErrSSH, "Connection lost while running: display version", "")}
		}
		return polltesting.Response{Output: "ok\n"}
	}

	r := poll.NewSessionRunner(core1, poll.Credential{}, tr, poll.PolicyPersistent, time.Second, nil)
	defer r.Close()

	_, err := r.Execute(context.Background(), "display version")
	require.Error(t, err)
	assert.Equal(t, poll.KindConnect, poll.KindOf(err))

	out, err := r.Execute(context.Background(), "display version")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
	assert.Equal(t, 2, tr.Opens("core-1"))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want poll.ErrorKind
	}{
		{"nil", nil, poll.KindNone},
		{"plain error is exec", stderrors.New("boom"), poll.KindExec},
		{"deadline", context.DeadlineExceeded, poll.KindTimeout},
		{"timeout code", errors.New(errors.ErrTimeout, "slow", ""), poll.KindTimeout},
		{"connect code", errors.New(errors.ErrConnect, "refused", ""), poll.KindConnect},
		{"ssh code counts as connect", errors.New(errors.ErrSSH, "handshake", ""), poll.KindConnect},
		{"exec code", errors.New(errors.ErrExec, "bad", ""), poll.KindExec},
		{
			"unreachable wins over its cause",
			errors.WrapWithCode(errors.New(errors.ErrTimeout, "slow", ""), errors.ErrUnreachable, "down", ""),
			poll.KindUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, poll.KindOf(tt.err))
		})
	}
}
