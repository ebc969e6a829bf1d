package poll

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
)

// RepeatScheduler fires one job's command at a fixed interval for the
// job's duration and emits a PollResult per tick.
type RepeatScheduler struct {
	job   PollJob
	exec  Executor
	emit  func(PollResult)
	log   logger.Logger
	state atomic.Int32
}

// NewRepeatScheduler creates a scheduler in the Idle state. emit is called
// sequentially from the goroutine running Run.
func NewRepeatScheduler(job PollJob, exec Executor, emit func(PollResult), log logger.Logger) *RepeatScheduler {
	if log == nil {
		log = logger.Noop()
	}
	return &RepeatScheduler{
		job:  job,
		exec: exec,
		emit: emit,
		log:  log,
	}
}

// State returns the current lifecycle state.
func (s *RepeatScheduler) State() State {
	return State(s.state.Load())
}

// Run drives the loop until the window is exhausted, the failure threshold
// is hit, or ctx is cancelled, then emits the end marker and returns the
// terminal state. Cancellation is observed at tick boundaries only; a tick
// in flight finishes and is emitted first.
func (s *RepeatScheduler) Run(ctx context.Context) State {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return s.State()
	}

	host := s.job.Host
	total := s.job.TotalTicks()
	threshold := s.job.FailureThreshold
	consecutive := 0
	seq := 0

	s.log.Debug("starting: %d ticks every %s", total, s.job.Interval)

	final := StateCompleted
loop:
	for seq < total {
		if ctx.Err() != nil {
			final = StateAborted
			break
		}

		tickStart := time.Now()
		out, err := s.exec.Execute(ctx, s.job.Command)
		res := PollResult{
			Host:      host.ID(),
			Address:   host.Address,
			Command:   s.job.Command,
			Seq:       seq,
			Timestamp: tickStart,
			Output:    out,
			Latency:   time.Since(tickStart),
		}

		if err != nil {
			consecutive++
			if threshold > 0 && consecutive >= threshold {
				err = errors.WrapWithCode(err, errors.ErrUnreachable,
					fmt.Sprintf("%s unreachable after %d consecutive failures", host.ID(), consecutive),
					"Check the device and the management path to it")
			}
			res.Kind = KindOf(err)
			res.Err = err
			s.log.Warn("tick %d: %s", seq, errors.OneLine(err))
		} else {
			consecutive = 0
		}

		s.emit(res)
		seq++

		if res.Kind == KindUnreachable {
			final = StateAborted
			break
		}
		if seq >= total {
			break
		}

		wait := time.Until(tickStart.Add(s.job.Interval))
		if wait <= 0 {
			s.log.Debug("tick %d overran the interval by %s", seq-1, -wait)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			final = StateAborted
			break loop
		case <-timer.C:
		}
	}

	s.state.Store(int32(final))
	s.log.Debug("%s after %d ticks", final, seq)

	s.emit(PollResult{
		Host:      host.ID(),
		Address:   host.Address,
		Command:   s.job.Command,
		Seq:       seq,
		Timestamp: time.Now(),
		End:       true,
		State:     final,
		Ticks:     seq,
	})
	return final
}
