package runner

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/perfgo/testrunner/command"
	"github.com/perfgo/testrunner/model"
	"github.com/perfgo/testrunner/pool"
	"github.com/perfgo/testrunner/progress"
	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/testsuite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakePool executes jobs sequentially in submission order.
type fakePool struct {
	execute    func(job pool.Job) (model.Output, time.Duration)
	heartbeats int
	// stopAfter ends the stream after that many results when positive
	stopAfter int

	queue      []pool.Job
	executed   []pool.Job
	terminated int
}

func (p *fakePool) Imap(ctx context.Context, gen iter.Seq[pool.Job]) iter.Seq[pool.Result] {
	return func(yield func(pool.Result) bool) {
		for i := 0; i < p.heartbeats; i++ {
			if !yield(pool.Result{Heartbeat: true}) {
				return
			}
		}
		for job := range gen {
			p.queue = append(p.queue, job)
		}
		for len(p.queue) > 0 {
			if p.stopAfter > 0 && len(p.executed) == p.stopAfter {
				return
			}
			job := p.queue[0]
			p.queue = p.queue[1:]
			p.executed = append(p.executed, job)
			out, elapsed := p.execute(job)
			if !yield(pool.Result{TestID: job.TestID, Run: job.Run, Output: out, Elapsed: elapsed}) {
				return
			}
		}
	}
}

func (p *fakePool) Add(jobs ...pool.Job) {
	p.queue = append(p.queue, jobs...)
}

func (p *fakePool) Terminate() {
	p.terminated++
}

func (p *fakePool) runsOf(id int) []int {
	var runs []int
	for _, job := range p.executed {
		if job.TestID == id {
			runs = append(runs, job.Run)
		}
	}
	return runs
}

type fakeStore struct {
	durations map[string]time.Duration
	updates   map[string]int
	fetchErr  error
	updateErr error
	closed    int
	cleared   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		durations: make(map[string]time.Duration),
		updates:   make(map[string]int),
	}
}

func (s *fakeStore) Fetch(tc *testsuite.TestCase) (time.Duration, bool, error) {
	if s.fetchErr != nil {
		return 0, false, s.fetchErr
	}
	d, ok := s.durations[tc.Name]
	return d, ok, nil
}

func (s *fakeStore) Update(tc *testsuite.TestCase) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates[tc.Name]++
	return nil
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

func (s *fakeStore) Clear() error {
	s.cleared++
	return nil
}

type event struct {
	Test       string
	Run        int
	Unexpected bool
	Stdout     string
}

type fakeIndicator struct {
	started    int
	heartbeats int
	done       int
	events     []event
}

func (i *fakeIndicator) Starting(src progress.StatusSource) { i.started++ }
func (i *fakeIndicator) Heartbeat()                         { i.heartbeats++ }
func (i *fakeIndicator) Done()                              { i.done++ }

func (i *fakeIndicator) HasRun(tc *testsuite.TestCase, unexpected bool) {
	e := event{Test: tc.Name, Run: tc.Run, Unexpected: unexpected}
	if tc.Output != nil {
		e.Stdout = tc.Output.Stdout
	}
	i.events = append(i.events, e)
}

func newSuite(name string, rules *statusfile.Rules, tests ...string) *testsuite.Suite {
	s := testsuite.New(name, "/"+name, rules, nil)
	for _, n := range tests {
		s.AddTest(n, "default", command.New("d8", []string{n + ".js"}, nil, 0))
	}
	return s
}

type fixture struct {
	pool      *fakePool
	store     *fakeStore
	indicator *fakeIndicator
	runner    *Runner
}

func newFixture(suites []*testsuite.Suite, cfg Config, execute func(tc *testsuite.TestCase, run int) (model.Output, time.Duration)) *fixture {
	f := &fixture{
		store:     newFakeStore(),
		indicator: &fakeIndicator{},
	}
	var byID []*testsuite.TestCase
	for _, s := range suites {
		byID = append(byID, s.Tests...)
	}
	f.pool = &fakePool{execute: func(job pool.Job) (model.Output, time.Duration) {
		return execute(byID[job.TestID], job.Run)
	}}
	f.runner = New(suites, f.indicator, f.store, f.pool, cfg, zerolog.Nop())
	return f
}

func pass(*testsuite.TestCase, int) (model.Output, time.Duration) {
	return model.Output{}, time.Millisecond
}

func TestOrdering(t *testing.T) {
	rules := statusfile.NewRules()
	rules.Add("", "slow", statusfile.NewOutcomes(statusfile.Slow))

	tests := []struct {
		name      string
		noSorting bool
		want      []string
	}{
		{"by stored duration", false, []string{"long", "slow", "a", "b", "short"}},
		{"slow first", true, []string{"slow", "a", "b", "long", "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSuite("mjsunit", rules, "a", "b", "long", "short", "slow")
			f := newFixture([]*testsuite.Suite{s}, Config{NoSorting: tt.noSorting}, pass)
			f.store.durations["long"] = 5 * time.Second
			f.store.durations["short"] = 10 * time.Millisecond
			// Durations are read when the runner is created.
			f.runner = New([]*testsuite.Suite{s}, f.indicator, f.store, f.pool, Config{NoSorting: tt.noSorting}, zerolog.Nop())

			var got []string
			for _, tc := range f.runner.Tests() {
				got = append(got, tc.Name)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}

			// Ids follow the suite order, not the execution order.
			for i, tc := range s.Tests {
				require.Equal(t, i, tc.ID)
			}

			verdict, err := f.runner.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 0, verdict)

			var executed []string
			for _, job := range f.pool.executed {
				executed = append(executed, s.Tests[job.TestID].Name)
			}
			require.Equal(t, tt.want, executed)
		})
	}
}

func TestIdsAcrossSuites(t *testing.T) {
	a := newSuite("a", nil, "x", "y")
	b := newSuite("b", nil, "z")
	f := newFixture([]*testsuite.Suite{a, b}, Config{NoSorting: true}, pass)

	require.Equal(t, 0, a.Tests[0].ID)
	require.Equal(t, 1, a.Tests[1].ID)
	require.Equal(t, 2, b.Tests[0].ID)
	require.Equal(t, progress.Status{Total: 3, Remaining: 3}, f.runner.Status())
}

func TestRunNormal(t *testing.T) {
	rules := statusfile.NewRules()
	rules.Add("", "foo/bar", statusfile.NewOutcomes(statusfile.Fail))
	s := newSuite("mjsunit", rules, "foo/bar", "foo/baz", "ok")

	f := newFixture([]*testsuite.Suite{s}, Config{NoSorting: true}, func(tc *testsuite.TestCase, run int) (model.Output, time.Duration) {
		switch tc.Name {
		case "foo/bar":
			return model.Output{ExitCode: 1}, time.Millisecond
		case "foo/baz":
			return model.Output{ExitCode: -11, Crashed: true}, time.Millisecond
		}
		return model.Output{}, time.Millisecond
	})
	f.pool.heartbeats = 2

	verdict, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, verdict)

	c := f.runner.Counters()
	require.Equal(t, 3, c.Total)
	require.Equal(t, 0, c.Remaining)
	require.Equal(t, 2, c.Succeeded)
	require.Equal(t, 1, c.Crashed)
	require.Len(t, c.Failed, 1)
	require.Equal(t, "foo/baz", c.Failed[0].Name)

	require.Equal(t, []event{
		{Test: "foo/bar", Run: 1},
		{Test: "foo/baz", Run: 1, Unexpected: true},
		{Test: "ok", Run: 1},
	}, f.indicator.events)
	require.Equal(t, 1, f.indicator.started)
	require.Equal(t, 2, f.indicator.heartbeats)
	require.Equal(t, 1, f.indicator.done)

	// Only expected results teach the duration store.
	require.Equal(t, map[string]int{"foo/bar": 1, "ok": 1}, f.store.updates)
	require.Equal(t, 1, f.pool.terminated)
	require.Equal(t, 1, f.store.closed)
	require.Zero(t, f.store.cleared)
}

func TestRerunBudget(t *testing.T) {
	tests := []struct {
		name       string
		count, max int
		failing    int
		wantRerun  int
		wantTotal  int
	}{
		{"no reruns", 0, 10, 3, 0, 3},
		{"budget limits distinct tests", 3, 2, 3, 2, 3 + 2*3},
		{"budget larger than failures", 2, 10, 3, 3, 3 + 3*2},
		{"no rerun budget", 3, 0, 3, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var names []string
			for i := 0; i < tt.failing; i++ {
				names = append(names, string(rune('a'+i)))
			}
			s := newSuite("mjsunit", nil, names...)
			cfg := Config{RerunFailuresCount: tt.count, RerunFailuresMax: tt.max, Timeout: time.Minute, NoSorting: true}
			f := newFixture([]*testsuite.Suite{s}, cfg, func(*testsuite.TestCase, int) (model.Output, time.Duration) {
				return model.Output{ExitCode: 1}, time.Millisecond
			})

			verdict, err := f.runner.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 1, verdict)

			c := f.runner.Counters()
			require.Equal(t, tt.wantRerun, c.RerunTests)
			require.Equal(t, tt.wantTotal, c.Total)
			require.Equal(t, tt.wantTotal, len(f.pool.executed))
			require.Equal(t, 0, c.Remaining)

			rerun := 0
			for _, tc := range s.Tests {
				runs := f.pool.runsOf(tc.ID)
				if len(runs) > 1 {
					rerun++
					require.Len(t, runs, tt.count+1)
				}
			}
			require.Equal(t, tt.wantRerun, rerun)
		})
	}
}

func TestSlowTestsRerunOnce(t *testing.T) {
	s := newSuite("mjsunit", nil, "slow")
	cfg := Config{RerunFailuresCount: 5, RerunFailuresMax: 5, Timeout: 20 * time.Second, NoSorting: true}
	f := newFixture([]*testsuite.Suite{s}, cfg, func(*testsuite.TestCase, int) (model.Output, time.Duration) {
		return model.Output{ExitCode: 1}, 2 * time.Second
	})

	_, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, f.pool.runsOf(0))
}

func TestFlakyTest(t *testing.T) {
	s := newSuite("mjsunit", nil, "flaky")
	cfg := Config{RerunFailuresCount: 2, RerunFailuresMax: 1, Timeout: time.Minute, NoSorting: true}
	f := newFixture([]*testsuite.Suite{s}, cfg, func(_ *testsuite.TestCase, run int) (model.Output, time.Duration) {
		if run == 1 {
			return model.Output{ExitCode: 1}, time.Millisecond
		}
		return model.Output{}, time.Millisecond
	})

	verdict, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, verdict)

	c := f.runner.Counters()
	require.Equal(t, 2, c.Total)
	require.Equal(t, 1, c.Succeeded)
	require.Len(t, c.Failed, 1)
	// The passing rerun is still reported.
	require.Equal(t, []event{
		{Test: "flaky", Run: 1, Unexpected: true},
		{Test: "flaky", Run: 2, Unexpected: true},
	}, f.indicator.events)
	require.Equal(t, 1, f.store.updates["flaky"])
}

func TestIncompleteRun(t *testing.T) {
	s := newSuite("mjsunit", nil, "a", "b")
	f := newFixture([]*testsuite.Suite{s}, Config{NoSorting: true}, pass)
	f.pool.stopAfter = 1

	verdict, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, verdict)
	require.Equal(t, 1, f.runner.Status().Remaining)
	require.Equal(t, 1, f.pool.terminated)
}

func TestEmptyRun(t *testing.T) {
	f := newFixture(nil, Config{Predictable: true}, pass)
	verdict, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, verdict)
	require.Equal(t, 1, f.pool.terminated)
	require.Equal(t, 1, f.store.closed)
}

func TestGenerationErrorIsDeferred(t *testing.T) {
	s := newSuite("mjsunit", nil, "a")
	s.AddTest("broken", "default", command.Command{})
	s.AddTest("c", "default", command.New("d8", nil, nil, 0))
	f := newFixture([]*testsuite.Suite{s}, Config{NoSorting: true}, pass)

	verdict, err := f.runner.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidJob)
	require.ErrorContains(t, err, "mjsunit/broken [default]")

	// The other tests ran and teardown happened once.
	require.Equal(t, []int{1}, f.pool.runsOf(0))
	require.Equal(t, []int{1}, f.pool.runsOf(2))
	require.Empty(t, f.pool.runsOf(1))
	require.Equal(t, 1, f.pool.terminated)
	require.Equal(t, 1, f.store.closed)
	require.Equal(t, 1, f.indicator.done)
	require.Equal(t, 2, verdict)
}

func TestPerfFailuresClearStore(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *fakeStore)
	}{
		{"fetch", func(s *fakeStore) { s.fetchErr = errors.New("corrupt") }},
		{"update", func(s *fakeStore) { s.updateErr = errors.New("disk full") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSuite("mjsunit", nil, "a", "b")
			store := newFakeStore()
			tt.setup(store)
			p := &fakePool{execute: func(pool.Job) (model.Output, time.Duration) {
				return model.Output{}, time.Millisecond
			}}
			r := New([]*testsuite.Suite{s}, &fakeIndicator{}, store, p, Config{}, zerolog.Nop())

			verdict, err := r.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, 0, verdict)
			require.Equal(t, 1, store.closed)
			require.Equal(t, 1, store.cleared)
		})
	}
}

func TestCancelledRun(t *testing.T) {
	s := newSuite("mjsunit", nil, "a")
	f := newFixture([]*testsuite.Suite{s}, Config{NoSorting: true}, pass)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, f.pool.terminated)
}
