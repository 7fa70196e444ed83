package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/perfgo/testrunner/command"
	"github.com/perfgo/testrunner/model"
	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/testsuite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status Status
	failed []*testsuite.TestCase
}

func (f *fakeSource) Status() Status                     { return f.status }
func (f *fakeSource) FailedTests() []*testsuite.TestCase { return f.failed }

func newTest(t *testing.T, name string, out model.Output) *testsuite.TestCase {
	t.Helper()
	rules := statusfile.NewRules()
	rules.Add("", "expected-fail", statusfile.NewOutcomes(statusfile.Fail))
	suite := testsuite.New("mjsunit", t.TempDir(), rules, nil)
	return &testsuite.TestCase{
		Name:    name,
		Variant: "default",
		Suite:   suite,
		Run:     1,
		Output:  &out,
		Cmd:     command.New("d8", []string{"--turbo", "test file.js"}, nil, 0),
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names {
		i, err := New(name, &bytes.Buffer{}, zerolog.Nop())
		require.NoError(t, err)
		require.NotNil(t, i)
	}
	_, err := New("fancy", &bytes.Buffer{}, zerolog.Nop())
	require.Error(t, err)
}

func TestDots(t *testing.T) {
	var buf bytes.Buffer
	crash := newTest(t, "crash", model.Output{ExitCode: -11, Crashed: true})
	src := &fakeSource{status: Status{Total: 4, Failed: 3, Crashed: 1}, failed: []*testsuite.TestCase{crash}}

	d := NewDots(&buf)
	d.Starting(src)
	d.Heartbeat()
	d.HasRun(newTest(t, "ok", model.Output{}), false)
	d.HasRun(crash, true)
	d.HasRun(newTest(t, "slow", model.Output{ExitCode: -9, TimedOut: true}), true)
	d.HasRun(newTest(t, "fail", model.Output{ExitCode: 1}), true)
	d.Done()

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "Running 4 tests\n.CTF\n=== mjsunit/crash [default] ===\n"), out)
	require.Contains(t, out, "--- CRASHED ---")
	require.Contains(t, out, "=== 3 tests failed\n")
	require.Contains(t, out, "=== 1 tests CRASHED\n")
}

func TestDotsWrapLines(t *testing.T) {
	var buf bytes.Buffer
	d := NewDots(&buf)
	d.Starting(&fakeSource{})
	tc := newTest(t, "ok", model.Output{})
	for i := 0; i < 120; i++ {
		d.HasRun(tc, false)
	}
	lines := strings.Split(strings.TrimPrefix(buf.String(), "Running 0 tests\n"), "\n")
	require.Equal(t, []string{strings.Repeat(".", 50), strings.Repeat(".", 50), strings.Repeat(".", 20)}, lines)
}

func TestCompactStatusLine(t *testing.T) {
	fclock := fakeclock.NewFakeClock(time.Unix(0, 0))
	src := &fakeSource{status: Status{Total: 200, Remaining: 50, Succeeded: 140, Failed: 10}}

	c := NewCompact(&bytes.Buffer{}, fclock, false)
	c.Starting(src)
	fclock.Increment(2*time.Minute + 5*time.Second)

	require.Equal(t, "[02:05| 75%|+ 140|-  10]: mjsunit/a", c.StatusLine("mjsunit/a"))
}

func TestCompactReportsFailures(t *testing.T) {
	var buf bytes.Buffer
	fclock := fakeclock.NewFakeClock(time.Unix(0, 0))
	src := &fakeSource{status: Status{Total: 1}}

	c := NewCompact(&buf, fclock, true)
	c.Starting(src)
	c.HasRun(newTest(t, "fail", model.Output{ExitCode: 1, Stdout: "boom"}), true)

	out := buf.String()
	require.Contains(t, out, "=== mjsunit/fail [default] ===\n--- stdout ---\nboom\n")
	require.Contains(t, out, "Command: d8 --turbo 'test file.js'\n")
	require.Contains(t, out, "exit code: 1\n")
}

func TestVerbose(t *testing.T) {
	var logs, buf bytes.Buffer
	v := NewVerbose(&buf, zerolog.New(&logs))
	v.Starting(&fakeSource{status: Status{Total: 1}})
	v.HasRun(newTest(t, "expected-fail", model.Output{ExitCode: 1}), false)
	v.Done()

	require.Contains(t, logs.String(), `"test":"mjsunit/expected-fail [default]"`)
	require.Contains(t, logs.String(), `"outcome":"FAIL"`)
	require.Contains(t, buf.String(), "=== All tests succeeded")
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewDots(&a), NewDots(&b)}
	m.Starting(&fakeSource{})
	m.HasRun(newTest(t, "ok", model.Output{}), false)
	m.Heartbeat()
	m.Done()
	require.Equal(t, a.String(), b.String())
	require.Contains(t, a.String(), ".\n")
}

func TestFailureTable(t *testing.T) {
	var buf bytes.Buffer
	FailureTable(&buf, []*testsuite.TestCase{
		newTest(t, "expected-fail", model.Output{ExitCode: 0}),
		newTest(t, "crash", model.Output{ExitCode: -11, Crashed: true}),
	})

	out := buf.String()
	require.Contains(t, out, "Failed tests")
	require.Contains(t, out, "mjsunit/expected-fail")
	require.Contains(t, out, "[FAIL]")
	require.Contains(t, out, "CRASH")
	require.Contains(t, out, "-11")
}
