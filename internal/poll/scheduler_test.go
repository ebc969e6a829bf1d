package poll_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/devpoll/devpoll/internal/poll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execFunc func(ctx context.Context, command string) (string, error)

func (f execFunc) Execute(ctx context.Context, command string) (string, error) {
	return f(ctx, command)
}

type recorder struct {
	mu      sync.Mutex
	results []poll.PollResult
}

func (r *recorder) emit(res poll.PollResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) ticks() []poll.PollResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []poll.PollResult
	for _, res := range r.results {
		if !res.End {
			out = append(out, res)
		}
	}
	return out
}

func (r *recorder) markers() []poll.PollResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []poll.PollResult
	for _, res := range r.results {
		if res.End {
			out = append(out, res)
		}
	}
	return out
}

func okExec() execFunc {
	return func(context.Context, string) (string, error) { return "ok", nil }
}

func TestTotalTicks(t *testing.T) {
	tests := []struct {
		duration time.Duration
		interval time.Duration
		want     int
	}{
		{10 * time.Second, 5 * time.Second, 2},
		{12 * time.Second, 5 * time.Second, 3},
		{3 * time.Second, 5 * time.Second, 1},
		{5 * time.Second, 5 * time.Second, 1},
		{time.Minute, time.Second, 60},
		{0, time.Second, 0},
		{time.Second, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, poll.TotalTicks(tt.duration, tt.interval), "D=%s I=%s", tt.duration, tt.interval)
	}
}

func TestRepeatScheduler_EmitsEveryTick(t *testing.T) {
	rec := &recorder{}
	job := poll.PollJob{Host: core1, Command: "display version", Interval: 10 * time.Millisecond, Duration: 50 * time.Millisecond}
	s := poll.NewRepeatScheduler(job, okExec(), rec.emit, nil)

	assert.Equal(t, poll.StateIdle, s.State())
	state := s.Run(context.Background())
	assert.Equal(t, poll.StateCompleted, state)
	assert.Equal(t, poll.StateCompleted, s.State())

	ticks := rec.ticks()
	require.Len(t, ticks, 5)
	for i, r := range ticks {
		assert.Equal(t, i, r.Seq, "seq must be gapless")
		assert.Equal(t, "core-1", r.Host)
		assert.Equal(t, "10.0.0.1", r.Address)
		assert.Equal(t, "ok", r.Output)
		assert.False(t, r.Failed())
		if i > 0 {
			assert.True(t, r.Timestamp.After(ticks[i-1].Timestamp))
		}
	}

	markers := rec.markers()
	require.Len(t, markers, 1)
	assert.Equal(t, poll.StateCompleted, markers[0].State)
	assert.Equal(t, 5, markers[0].Ticks)
}

func TestRepeatScheduler_ShortWindowFiresOnce(t *testing.T) {
	rec := &recorder{}
	job := poll.PollJob{Host: core1, Command: "display version", Interval: time.Second, Duration: 10 * time.Millisecond}

	start := time.Now()
	state := poll.NewRepeatScheduler(job, okExec(), rec.emit, nil).Run(context.Background())

	assert.Equal(t, poll.StateCompleted, state)
	assert.Len(t, rec.ticks(), 1)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no wait after the last tick")
}

func TestRepeatScheduler_AbortsAtThreshold(t *testing.T) {
	cause := stderrors.New("Error: Unrecognized command")
	failing := execFunc(func(context.Context, string) (string, error) { return "", cause })

	rec := &recorder{}
	job := poll.PollJob{
		Host:             core1,
		Command:          "dis ver",
		Interval:         5 * time.Millisecond,
		Duration:         time.Second,
		FailureThreshold: 3,
	}
	state := poll.NewRepeatScheduler(job, failing, rec.emit, nil).Run(context.Background())

	assert.Equal(t, poll.StateAborted, state)
	ticks := rec.ticks()
	require.Len(t, ticks, 3, "exactly N results for N consecutive failures")
	assert.Equal(t, poll.KindExec, ticks[0].Kind)
	assert.Equal(t, poll.KindExec, ticks[1].Kind)
	assert.Equal(t, poll.KindUnreachable, ticks[2].Kind)
	assert.ErrorIs(t, ticks[2].Err, cause)
	assert.Contains(t, ticks[2].ErrString(), "unreachable after 3 consecutive failures")

	markers := rec.markers()
	require.Len(t, markers, 1)
	assert.Equal(t, poll.StateAborted, markers[0].State)
	assert.Equal(t, 3, markers[0].Ticks)
}

func TestRepeatScheduler_SuccessResetsFailureCounter(t *testing.T) {
	pattern := []bool{false, false, true, false, false, true}
	var mu sync.Mutex
	i := 0
	exec := execFunc(func(context.Context, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		ok := pattern[i%len(pattern)]
		i++
		if ok {
			return "ok", nil
		}
		return "", stderrors.New("flap")
	})

	rec := &recorder{}
	job := poll.PollJob{Host: core1, Command: "x", Interval: 2 * time.Millisecond, Duration: 12 * time.Millisecond, FailureThreshold: 3}
	state := poll.NewRepeatScheduler(job, exec, rec.emit, nil).Run(context.Background())

	assert.Equal(t, poll.StateCompleted, state)
	assert.Len(t, rec.ticks(), 6)
}

func TestRepeatScheduler_CancelDuringWait(t *testing.T) {
	rec := &recorder{}
	job := poll.PollJob{Host: core1, Command: "display version", Interval: time.Second, Duration: 10 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	emit := func(r poll.PollResult) {
		rec.emit(r)
		if !r.End && r.Seq == 0 {
			time.AfterFunc(20*time.Millisecond, cancel)
		}
	}

	start := time.Now()
	state := poll.NewRepeatScheduler(job, okExec(), emit, nil).Run(ctx)

	assert.Equal(t, poll.StateAborted, state)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancel must interrupt the interval wait")
	assert.Len(t, rec.ticks(), 1)
	markers := rec.markers()
	require.Len(t, markers, 1)
	assert.Equal(t, poll.StateAborted, markers[0].State)
}

func TestRepeatScheduler_CancelledBeforeStart(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := poll.PollJob{Host: core1, Command: "x", Interval: time.Millisecond, Duration: 10 * time.Millisecond}
	state := poll.NewRepeatScheduler(job, okExec(), rec.emit, nil).Run(ctx)

	assert.Equal(t, poll.StateAborted, state)
	assert.Empty(t, rec.ticks(), "no command starts after cancellation")
	assert.Len(t, rec.markers(), 1)
}

func TestRepeatScheduler_OverrunDoesNotStack(t *testing.T) {
	slow := execFunc(func(context.Context, string) (string, error) {
		time.Sleep(25 * time.Millisecond)
		return "ok", nil
	})

	rec := &recorder{}
	job := poll.PollJob{Host: core1, Command: "x", Interval: 10 * time.Millisecond, Duration: 30 * time.Millisecond}
	state := poll.NewRepeatScheduler(job, slow, rec.emit, nil).Run(context.Background())

	assert.Equal(t, poll.StateCompleted, state)
	ticks := rec.ticks()
	require.Len(t, ticks, 3)
	for i := 1; i < len(ticks); i++ {
		gap := ticks[i].Timestamp.Sub(ticks[i-1].Timestamp)
		assert.GreaterOrEqual(t, gap, 25*time.Millisecond, "next tick starts only after the previous finished")
	}
}

func TestRepeatScheduler_RunOnlyOnce(t *testing.T) {
	rec := &recorder{}
	job := poll.PollJob{Host: core1, Command: "x", Interval: time.Millisecond, Duration: time.Millisecond}
	s := poll.NewRepeatScheduler(job, okExec(), rec.emit, nil)

	assert.Equal(t, poll.StateCompleted, s.Run(context.Background()))
	assert.Equal(t, poll.StateCompleted, s.Run(context.Background()))
	assert.Len(t, rec.markers(), 1, "terminal states are final")
}
