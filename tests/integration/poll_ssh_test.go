package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
	"github.com/devpoll/devpoll/internal/poll"
	"github.com/devpoll/devpoll/internal/sink"
	"github.com/devpoll/devpoll/internal/transport"
)

func newPool(policy poll.SessionPolicy) *poll.HostPool {
	mux := transport.Default(transport.Options{SSH: transport.SSHOptions{DialTimeout: 10 * time.Second}})
	return poll.NewHostPool(mux, testCredentials(), poll.Options{
		MaxConcurrency:   4,
		FailureThreshold: 2,
		Timeout:          10 * time.Second,
		Policy:           policy,
	}, logger.Noop())
}

// TestPollSSH_Persistent polls a real host and checks every tick reused
// the session and produced output.
func TestPollSSH_Persistent(t *testing.T) {
	SkipIfNoSSH(t)

	jobs := []poll.PollJob{{
		Host:     testHost("local"),
		Command:  "echo devpoll-$((1+1))",
		Interval: 200 * time.Millisecond,
		Duration: time.Second,
	}}
	mem := &sink.Memory{}
	summary, err := newPool(poll.PolicyPersistent).Run(context.Background(), jobs, mem)
	require.NoError(t, err)
	require.True(t, summary.Success(), "host should complete")

	results := mem.Results()
	require.Len(t, results, 6, "five ticks plus the end marker")
	for _, r := range results[:5] {
		require.False(t, r.Failed(), "tick %d: %s", r.Seq, r.ErrString())
		assert.Equal(t, "devpoll-2", strings.TrimSpace(r.Output))
	}
	assert.True(t, results[5].End)
	assert.Equal(t, poll.StateCompleted, results[5].State)
}

// TestPollSSH_ExitStatus checks a non-zero exit is an exec error that
// keeps the output and doesn't count towards unreachability.
func TestPollSSH_ExitStatus(t *testing.T) {
	SkipIfNoSSH(t)

	jobs := []poll.PollJob{{
		Host:     testHost("failing"),
		Command:  "echo partial; exit 3",
		Interval: 100 * time.Millisecond,
		Duration: 300 * time.Millisecond,
		// Exec errors still count as failed ticks.
		FailureThreshold: 10,
	}}
	mem := &sink.Memory{}
	summary, err := newPool(poll.PolicyPerCall).Run(context.Background(), jobs, mem)
	require.NoError(t, err)
	assert.True(t, summary.Success())

	first := mem.Results()[0]
	assert.Equal(t, poll.KindExec, first.Kind)
	assert.True(t, errors.IsCode(first.Err, errors.ErrExec))
	assert.Contains(t, first.Output, "partial")
}

// TestPollSSH_Unreachable points at a closed port and expects the host to
// be aborted after the failure threshold.
func TestPollSSH_Unreachable(t *testing.T) {
	SkipIfNoSSH(t)

	host := testHost("closed")
	host.Port = 1
	jobs := []poll.PollJob{{
		Host:     host,
		Command:  "true",
		Interval: 50 * time.Millisecond,
		Duration: time.Second,
	}}
	mem := &sink.Memory{}
	summary, err := newPool(poll.PolicyAuto).Run(context.Background(), jobs, mem)
	require.NoError(t, err)
	assert.False(t, summary.Success())

	results := mem.Results()
	require.Len(t, results, 3, "two failed ticks then the end marker")
	assert.Equal(t, poll.KindConnect, results[0].Kind)
	assert.Equal(t, poll.KindUnreachable, results[1].Kind)
	assert.Equal(t, poll.StateAborted, results[2].State)
}
