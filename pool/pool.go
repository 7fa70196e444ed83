// Package pool executes test attempts on a fixed number of worker
// goroutines and streams their completions back to a single consumer.
package pool

import (
	"context"
	"iter"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/perfgo/testrunner/command"
	"github.com/perfgo/testrunner/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultHeartbeat is the interval of heartbeat results while no attempt
// completes.
const DefaultHeartbeat = time.Second

// Job is one attempt of a test. It is a plain value and safe to pass to
// another goroutine.
type Job struct {
	TestID int
	Cmd    command.Command
	Run    int
}

// Result is either a heartbeat or the completion of a Job.
type Result struct {
	Heartbeat bool

	TestID  int
	Run     int
	Output  model.Output
	Elapsed time.Duration
}

// ExecuteFunc runs the command of a job.
type ExecuteFunc func(ctx context.Context, cmd command.Command) model.Output

// Option configures a Pool.
type Option func(*Pool)

// WithClock replaces the wall clock used for heartbeats and timing.
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(p *Pool) { p.heartbeat = d }
}

// WithExecutor replaces command execution, mostly for tests.
func WithExecutor(fn ExecuteFunc) Option {
	return func(p *Pool) { p.execute = fn }
}

// Pool is a worker pool. Imap starts the workers; Add may only be called
// by the goroutine consuming the stream returned by Imap.
type Pool struct {
	workers   int
	clock     clock.Clock
	heartbeat time.Duration
	execute   ExecuteFunc
	logger    zerolog.Logger

	// consumer state
	pending []Job

	mu         sync.Mutex
	started    bool
	terminated bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	work    chan Job
	results chan Result

	terminateOnce sync.Once
}

// New creates a pool with the given number of workers.
func New(workers int, logger zerolog.Logger, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		workers:   workers,
		clock:     clock.NewClock(),
		heartbeat: DefaultHeartbeat,
		execute: func(ctx context.Context, cmd command.Command) model.Output {
			return cmd.Execute(ctx)
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add enqueues more jobs. It must be called from within the loop ranging
// over the sequence returned by Imap; the stream then doesn't end before
// the added jobs complete.
func (p *Pool) Add(jobs ...Job) {
	p.pending = append(p.pending, jobs...)
}

// Imap starts the workers and returns the stream of completions for the
// jobs of gen and all jobs added while consuming it. Completions arrive in
// finish order, interleaved with heartbeats. The stream ends once gen is
// exhausted and no job is pending or running. Imap can be called once per
// pool.
func (p *Pool) Imap(ctx context.Context, gen iter.Seq[Job]) iter.Seq[Result] {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		panic("pool: Imap called twice")
	}
	p.started = true
	if p.terminated {
		p.mu.Unlock()
		return func(func(Result) bool) {}
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.work = make(chan Job)
	p.results = make(chan Result)
	var gctx context.Context
	p.group, gctx = errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			p.worker(gctx)
			return nil
		})
	}
	p.mu.Unlock()

	p.logger.Debug().Int("workers", p.workers).Msg("Started worker pool")

	return func(yield func(Result) bool) {
		next, stop := iter.Pull(gen)
		defer stop()

		ticker := p.clock.NewTicker(p.heartbeat)
		defer ticker.Stop()

		exhausted := false
		outstanding := 0
		for {
			if !exhausted && len(p.pending) == 0 {
				if job, ok := next(); ok {
					p.pending = append(p.pending, job)
				} else {
					exhausted = true
				}
			}
			if exhausted && len(p.pending) == 0 && outstanding == 0 {
				return
			}

			// A nil channel disables the send case while nothing is pending.
			var work chan<- Job
			var job Job
			if len(p.pending) > 0 {
				work = p.work
				job = p.pending[0]
			}

			select {
			case work <- job:
				p.pending = p.pending[1:]
				outstanding++
			case r := <-p.results:
				outstanding--
				if !yield(r) {
					return
				}
			case <-ticker.C():
				if !yield(Result{Heartbeat: true}) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.work:
			start := p.clock.Now()
			out := p.execute(ctx, job.Cmd)
			r := Result{
				TestID:  job.TestID,
				Run:     job.Run,
				Output:  out,
				Elapsed: p.clock.Since(start),
			}
			select {
			case p.results <- r:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Terminate stops the workers, killing running attempts, and waits for
// them to exit. It is safe to call more than once and before Imap.
func (p *Pool) Terminate() {
	p.terminateOnce.Do(func() {
		p.mu.Lock()
		p.terminated = true
		cancel, group := p.cancel, p.group
		p.mu.Unlock()
		if cancel == nil {
			return
		}
		p.logger.Debug().Msg("Stopping worker pool")
		cancel()
		_ = group.Wait()
	})
}
