package poll

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devpoll/devpoll/internal/errors"
	"github.com/devpoll/devpoll/internal/logger"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxConcurrency is the number of hosts polled at once when unset.
	DefaultMaxConcurrency = 20
	// DefaultFailureThreshold is the consecutive-failure limit when unset.
	DefaultFailureThreshold = 3
	// DefaultTimeout bounds a single command when neither job nor pool set one.
	DefaultTimeout = 30 * time.Second
)

// Options configures a HostPool. Zero values take the defaults above.
type Options struct {
	MaxConcurrency   int
	FailureThreshold int
	Timeout          time.Duration
	Policy           SessionPolicy
	// Buffer is the capacity of the result channel.
	Buffer int
}

// HostPool runs one RepeatScheduler per job under an admission limit.
type HostPool struct {
	transport Transport
	creds     CredentialResolver
	opts      Options
	log       logger.Logger

	active atomic.Int64
}

// NewHostPool creates a pool. creds may be nil, in which case every host
// gets a zero Credential.
func NewHostPool(transport Transport, creds CredentialResolver, opts Options, log logger.Logger) *HostPool {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Policy == "" {
		opts.Policy = PolicyAuto
	}
	if opts.Buffer <= 0 {
		opts.Buffer = opts.MaxConcurrency
	}
	if creds == nil {
		creds = CredentialFunc(func(string) (Credential, error) { return Credential{}, nil })
	}
	if log == nil {
		log = logger.Noop()
	}
	return &HostPool{
		transport: transport,
		creds:     creds,
		opts:      opts,
		log:       log,
	}
}

// Active returns the number of schedulers currently running.
func (p *HostPool) Active() int {
	return int(p.active.Load())
}

// Validate checks every job and rejects duplicate host IDs.
func (p *HostPool) Validate(jobs []PollJob) error {
	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return err
		}
		id := job.Host.ID()
		if seen[id] {
			return errors.New(errors.ErrConfig,
				fmt.Sprintf("Host %s is listed more than once", id),
				"Give each host a unique name")
		}
		seen[id] = true
	}
	return nil
}

// Stream validates jobs and starts polling them. Jobs are admitted in
// submission order, at most MaxConcurrency at a time. The returned channel
// carries every result and one end marker per job, and is closed once every
// scheduler has finished and released its session. The caller must drain it.
//
// Cancelling ctx stops admission and makes running schedulers stop at their
// next tick boundary; jobs never admitted get an Aborted marker with zero
// ticks.
func (p *HostPool) Stream(ctx context.Context, jobs []PollJob) (<-chan PollResult, error) {
	if err := p.Validate(jobs); err != nil {
		return nil, err
	}

	out := make(chan PollResult, p.opts.Buffer)
	sem := semaphore.NewWeighted(int64(p.opts.MaxConcurrency))

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(out)
		}()

		for i, job := range jobs {
			if ctx.Err() != nil || sem.Acquire(ctx, 1) != nil {
				p.log.Info("cancelled with %d job(s) not admitted", len(jobs)-i)
				for _, pending := range jobs[i:] {
					out <- endMarker(pending, StateAborted)
				}
				return
			}

			wg.Add(1)
			go func(job PollJob) {
				defer wg.Done()
				defer sem.Release(1)
				p.runJob(ctx, job, out)
			}(job)
		}
	}()

	return out, nil
}

// Run streams jobs into sink and returns the aggregated summary once every
// host is terminal. A sink error doesn't stop polling; the first one is
// returned alongside the summary.
func (p *HostPool) Run(ctx context.Context, jobs []PollJob, sink Sink) (*Summary, error) {
	results, err := p.Stream(ctx, jobs)
	if err != nil {
		return nil, err
	}

	summary := NewSummary(jobs)
	var sinkErr error
	for r := range results {
		summary.Add(r)
		if sink == nil {
			continue
		}
		if err := sink.Write(r); err != nil {
			p.log.Warn("sink write for %s: %v", r.Host, errors.OneLine(err))
			if sinkErr == nil {
				sinkErr = errors.WrapWithCode(err, errors.ErrSink, "Result output failed", "")
			}
		}
	}
	summary.Finish()

	return summary, sinkErr
}

func (p *HostPool) runJob(ctx context.Context, job PollJob, out chan<- PollResult) {
	p.active.Add(1)
	defer p.active.Add(-1)

	job = p.withDefaults(job)
	log := logger.With(p.log, "["+job.Host.ID()+"]")

	cred, err := p.creds.Resolve(job.Host.CredentialRef)
	if err != nil {
		// Surface it as the host's only tick so the stream stays well formed.
		out <- PollResult{
			Host:      job.Host.ID(),
			Address:   job.Host.Address,
			Command:   job.Command,
			Timestamp: time.Now(),
			Kind:      KindConnect,
			Err: errors.WrapWithCode(err, errors.ErrConnect,
				fmt.Sprintf("No usable credential %q for %s", job.Host.CredentialRef, job.Host.ID()),
				"Check the credentials section of the config"),
		}
		marker := endMarker(job, StateAborted)
		marker.Seq, marker.Ticks = 1, 1
		out <- marker
		return
	}

	runner := NewSessionRunner(job.Host, cred, p.transport, job.Policy, job.Timeout, log)
	defer func() {
		if err := runner.Close(); err != nil {
			log.Debug("close session: %v", err)
		}
	}()

	sched := NewRepeatScheduler(job, runner, func(r PollResult) { out <- r }, log)
	state := sched.Run(ctx)
	log.Info("%s", state)
}

func (p *HostPool) withDefaults(job PollJob) PollJob {
	if job.Timeout <= 0 {
		job.Timeout = p.opts.Timeout
	}
	if job.FailureThreshold <= 0 {
		job.FailureThreshold = p.opts.FailureThreshold
	}
	if job.Policy == "" {
		job.Policy = p.opts.Policy
	}
	return job
}

func endMarker(job PollJob, state State) PollResult {
	return PollResult{
		Host:      job.Host.ID(),
		Address:   job.Host.Address,
		Command:   job.Command,
		Timestamp: time.Now(),
		End:       true,
		State:     state,
	}
}
