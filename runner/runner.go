// Package runner schedules test attempts on a worker pool, classifies
// their results and requeues tests that need more runs.
package runner

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/perfgo/testrunner/pool"
	"github.com/perfgo/testrunner/progress"
	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/testsuite"
	"github.com/rs/zerolog"
)

// DefaultDuration is assumed for tests without stored duration.
const DefaultDuration = time.Second

var (
	// ErrNoAllocations is returned when a predictable run never printed an
	// allocation trace: the binary under test wasn't built for it.
	ErrNoAllocations = errors.New("no allocation traces printed in predictable mode")
	// ErrInvalidJob is returned when an attempt couldn't be created for a
	// test. The remaining tests still run.
	ErrInvalidJob = errors.New("invalid job")
)

// Config controls reruns and ordering.
type Config struct {
	// RerunFailuresCount is the number of reruns of a failing test
	RerunFailuresCount int
	// RerunFailuresMax is the number of distinct tests that may be rerun
	RerunFailuresMax int
	// Timeout of one attempt; tests slower than Timeout/20 are rerun once
	Timeout time.Duration
	// Predictable compares allocation traces of three runs per test
	Predictable bool
	// NoSorting keeps the suite order instead of longest tests first
	NoSorting bool
}

// Pool is the worker pool executing attempts. Add is only called from
// within the loop ranging over the sequence returned by Imap.
type Pool interface {
	Imap(ctx context.Context, jobs iter.Seq[pool.Job]) iter.Seq[pool.Result]
	Add(jobs ...pool.Job)
	Terminate()
}

// PerfStore keeps historical test durations.
type PerfStore interface {
	Fetch(tc *testsuite.TestCase) (time.Duration, bool, error)
	Update(tc *testsuite.TestCase) error
	Close() error
	Clear() error
}

// Counters holds the state of a run.
type Counters struct {
	// Total is the number of attempts scheduled so far
	Total int
	// Remaining is the number of attempts not finalized yet
	Remaining int
	Succeeded int
	Crashed   int
	Failed    []*testsuite.TestCase
	// RerunTests is the number of distinct tests that were rerun
	RerunTests int
}

// Runner executes the tests of a set of suites. All state is owned by the
// goroutine calling Run.
type Runner struct {
	cfg       Config
	logger    zerolog.Logger
	indicator progress.Indicator
	store     PerfStore
	pool      Pool

	// tests in execution order
	tests []*testsuite.TestCase
	// byID maps test ids to tests
	byID []*testsuite.TestCase

	counters           Counters
	perfFailures       bool
	printedAllocations bool
}

var _ progress.StatusSource = (*Runner)(nil)

// New creates a runner for the tests of suites. Test ids are assigned in
// suite order; execution starts with slow tests, then with the tests that
// took longest in previous runs unless cfg.NoSorting is set.
func New(suites []*testsuite.Suite, indicator progress.Indicator, store PerfStore, p Pool, cfg Config, logger zerolog.Logger) *Runner {
	r := &Runner{
		cfg:       cfg,
		logger:    logger,
		indicator: indicator,
		store:     store,
		pool:      p,
	}

	for _, s := range suites {
		for _, tc := range s.Tests {
			tc.ID = len(r.byID)
			r.byID = append(r.byID, tc)
		}
	}
	r.tests = slices.Clone(r.byID)
	r.counters.Total = len(r.tests)
	r.counters.Remaining = len(r.tests)

	slices.SortStableFunc(r.tests, func(a, b *testsuite.TestCase) int {
		return boolCmp(isSlow(b), isSlow(a))
	})

	if !cfg.NoSorting {
		for _, tc := range r.tests {
			tc.Duration = DefaultDuration
			r.runPerfSafe("fetch", func() error {
				d, ok, err := store.Fetch(tc)
				if err != nil {
					return err
				}
				if ok && d > 0 {
					tc.Duration = d
				}
				return nil
			})
		}
		slices.SortStableFunc(r.tests, func(a, b *testsuite.TestCase) int {
			return cmp.Compare(b.Duration, a.Duration)
		})
	}

	return r
}

func isSlow(tc *testsuite.TestCase) bool {
	if tc.Suite == nil {
		return false
	}
	return statusfile.IsSlow(tc.Suite.GetStatusFileOutcomes(tc.Name, tc.Variant))
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

// Status implements progress.StatusSource.
func (r *Runner) Status() progress.Status {
	return progress.Status{
		Total:     r.counters.Total,
		Remaining: r.counters.Remaining,
		Succeeded: r.counters.Succeeded,
		Failed:    len(r.counters.Failed),
		Crashed:   r.counters.Crashed,
		Reran:     r.counters.RerunTests,
	}
}

// FailedTests implements progress.StatusSource.
func (r *Runner) FailedTests() []*testsuite.TestCase {
	return r.counters.Failed
}

// Counters returns the state of the run.
func (r *Runner) Counters() Counters {
	c := r.counters
	c.Failed = slices.Clone(r.counters.Failed)
	return c
}

// Tests returns the tests in execution order.
func (r *Runner) Tests() []*testsuite.TestCase {
	return r.tests
}

// Run executes all tests and returns the verdict: 1 if a test failed, 2 if
// the run ended before all tests were finalized, 0 otherwise. The error is
// set when a job couldn't be created, the context was cancelled or the
// predictable mode check failed; the verdict is valid regardless.
func (r *Runner) Run(ctx context.Context) (int, error) {
	r.indicator.Starting(r)
	err := r.run(ctx)
	r.indicator.Done()

	switch {
	case len(r.counters.Failed) > 0:
		return 1, err
	case r.counters.Remaining > 0:
		return 2, err
	}
	return 0, err
}

func (r *Runner) run(ctx context.Context) (err error) {
	var genErr error
	jobs := func(yield func(pool.Job) bool) {
		for _, tc := range r.tests {
			job, err := newJob(tc)
			if err != nil {
				// Keep the first error and give the other tests a chance to run.
				if genErr == nil {
					genErr = err
				}
				continue
			}
			if !yield(job) {
				return
			}
		}
	}

	defer func() {
		r.logger.Debug().Msg("Closing process pool")
		r.pool.Terminate()

		r.logger.Debug().Msg("Closing database connection")
		r.runPerfSafe("close", r.store.Close)
		if r.perfFailures {
			r.logger.Warn().Msg("Deleting perf test data due to db corruption")
			if err := r.store.Clear(); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to delete perf test data")
			}
		}

		if err == nil {
			err = genErr
		}
		if err == nil && r.counters.Total > 0 && r.cfg.Predictable && !r.printedAllocations {
			err = fmt.Errorf("%w: %d attempts ran", ErrNoAllocations, r.counters.Total)
		}
	}()

	for res := range r.pool.Imap(ctx, jobs) {
		if res.Heartbeat {
			r.indicator.Heartbeat()
			continue
		}

		tc := r.lookup(res.TestID)
		if tc == nil {
			r.logger.Warn().Int("test_id", res.TestID).Msg("Result for unknown test")
			continue
		}

		var updatePerf bool
		if r.cfg.Predictable {
			updatePerf = r.processPredictable(tc, res)
		} else {
			updatePerf = r.processNormal(tc, res)
		}
		if updatePerf {
			r.runPerfSafe("update", func() error { return r.store.Update(tc) })
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	return nil
}

func newJob(tc *testsuite.TestCase) (pool.Job, error) {
	if tc.ID < 0 {
		return pool.Job{}, fmt.Errorf("%w: test %s has no id", ErrInvalidJob, tc.Label())
	}
	if tc.Cmd.IsZero() {
		return pool.Job{}, fmt.Errorf("%w: test %s has no command", ErrInvalidJob, tc.Label())
	}
	return pool.Job{TestID: tc.ID, Cmd: tc.Cmd, Run: tc.Run}, nil
}

func (r *Runner) lookup(id int) *testsuite.TestCase {
	if id < 0 || id >= len(r.byID) {
		return nil
	}
	return r.byID[id]
}

// runPerfSafe runs a store operation. Failures don't abort the run; they
// mark the stored data as corrupt so it is deleted at the end.
func (r *Runner) runPerfSafe(op string, fn func() error) {
	if err := fn(); err != nil {
		r.logger.Warn().Err(err).Str("operation", op).Msg("Perf data failure")
		r.perfFailures = true
	}
}

// processNormal records a result in normal mode and reports whether the
// duration store should learn from it.
func (r *Runner) processNormal(tc *testsuite.TestCase, res pool.Result) bool {
	out := res.Output
	tc.Output = &out
	tc.Duration = res.Elapsed

	unexpected := tc.Suite.HasUnexpectedOutput(tc, tc.Output, false)
	if unexpected {
		r.counters.Failed = append(r.counters.Failed, tc)
		if out.HasCrashed() {
			r.counters.Crashed++
		}
	} else {
		r.counters.Succeeded++
	}
	r.counters.Remaining--

	// Everything after the first run is reported as unexpected, even when
	// it passed, so flakes show up in the output.
	r.indicator.HasRun(tc, unexpected || tc.Run > 1)
	if unexpected {
		r.logger.Debug().Str("test", tc.Label()).Int("run", tc.Run).Msg("Attempting to rerun test after failure")
		r.maybeRerun(tc)
	}
	return !unexpected
}
