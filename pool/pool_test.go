package pool

import (
	"context"
	"slices"
	"sort"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/perfgo/testrunner/command"
	"github.com/perfgo/testrunner/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// echoExecutor reports the shell of the command instead of running it.
func echoExecutor(ctx context.Context, cmd command.Command) model.Output {
	return model.Output{Stdout: cmd.Shell}
}

func jobs(ids ...int) []Job {
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, Job{TestID: id, Cmd: command.New("test", nil, nil, 0), Run: 1})
	}
	return out
}

func TestImap(t *testing.T) {
	p := New(3, zerolog.Nop(), WithExecutor(echoExecutor))
	defer p.Terminate()

	var got []int
	for r := range p.Imap(context.Background(), slices.Values(jobs(0, 1, 2, 3, 4, 5, 6))) {
		if r.Heartbeat {
			continue
		}
		require.Equal(t, 1, r.Run)
		require.Equal(t, "test", r.Output.Stdout)
		got = append(got, r.TestID)
	}
	sort.Ints(got)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, got)
}

func TestImapEmpty(t *testing.T) {
	p := New(2, zerolog.Nop(), WithExecutor(echoExecutor))
	defer p.Terminate()

	count := 0
	for range p.Imap(context.Background(), slices.Values[[]Job](nil)) {
		count++
	}
	require.Zero(t, count)
}

func TestAddExtendsStream(t *testing.T) {
	p := New(2, zerolog.Nop(), WithExecutor(echoExecutor))
	defer p.Terminate()

	runs := make(map[int][]int)
	for r := range p.Imap(context.Background(), slices.Values(jobs(0, 1))) {
		if r.Heartbeat {
			continue
		}
		runs[r.TestID] = append(runs[r.TestID], r.Run)
		// Rerun every test until its third attempt.
		if r.Run < 3 {
			p.Add(Job{TestID: r.TestID, Run: r.Run + 1})
		}
	}
	require.Equal(t, map[int][]int{0: {1, 2, 3}, 1: {1, 2, 3}}, runs)
}

func TestHeartbeat(t *testing.T) {
	fclock := fakeclock.NewFakeClock(time.Unix(0, 0))
	release := make(chan struct{})
	p := New(1, zerolog.Nop(),
		WithClock(fclock),
		WithHeartbeat(time.Second),
		WithExecutor(func(ctx context.Context, cmd command.Command) model.Output {
			<-release
			return model.Output{ExitCode: 3}
		}),
	)
	defer p.Terminate()

	results := make(chan Result)
	go func() {
		defer close(results)
		for r := range p.Imap(context.Background(), slices.Values(jobs(7))) {
			results <- r
		}
	}()

	// The ticker is the only watcher while the job blocks.
	fclock.WaitForWatcherAndIncrement(time.Second)
	r := <-results
	require.True(t, r.Heartbeat)

	close(release)
	r = <-results
	require.False(t, r.Heartbeat)
	require.Equal(t, 7, r.TestID)
	require.Equal(t, 3, r.Output.ExitCode)

	_, ok := <-results
	require.False(t, ok)
}

func TestTerminate(t *testing.T) {
	started := make(chan struct{}, 2)
	p := New(2, zerolog.Nop(), WithHeartbeat(time.Millisecond), WithExecutor(func(ctx context.Context, cmd command.Command) model.Output {
		started <- struct{}{}
		<-ctx.Done()
		return model.Output{ExitCode: -9}
	}))

	seq := p.Imap(context.Background(), slices.Values(jobs(0, 1)))
	// Only heartbeats arrive while the attempts block.
	for r := range seq {
		require.True(t, r.Heartbeat)
		if len(started) > 0 {
			break
		}
	}

	// Stopping mid-stream unblocks the running attempts.
	p.Terminate()
	p.Terminate()
}

func TestTerminateBeforeImap(t *testing.T) {
	p := New(1, zerolog.Nop(), WithExecutor(echoExecutor))
	p.Terminate()

	count := 0
	for range p.Imap(context.Background(), slices.Values(jobs(0))) {
		count++
	}
	require.Zero(t, count)
}
