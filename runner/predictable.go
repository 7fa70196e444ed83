package runner

import (
	"strings"

	"github.com/perfgo/testrunner/model"
	"github.com/perfgo/testrunner/pool"
	"github.com/perfgo/testrunner/testsuite"
)

// allocationPrefix starts the allocation trace line printed by binaries
// built for predictable mode.
const allocationPrefix = "### Allocations = "

// processPredictable runs every test three times and fails it when the
// allocation traces differ. Durations are always stored.
func (r *Runner) processPredictable(tc *testsuite.TestCase, res pool.Result) bool {
	out := res.Output
	tc.Duration = res.Elapsed

	switch {
	case tc.Run == 1 && out.HasTimedOut():
		// A timeout in the first run leaves nothing to compare.
		tc.Output = &out
		r.counters.Remaining--
		r.counters.Failed = append(r.counters.Failed, tc)
		r.indicator.HasRun(tc, true)

	case tc.Run > 1 && r.allocationSignature(tc.Output) != r.allocationSignature(&out):
		// Report both outputs; all runs of a test count once.
		r.counters.Remaining--
		r.counters.Failed = append(r.counters.Failed, tc)
		r.indicator.HasRun(tc, true)
		tc.Output = &out
		r.indicator.HasRun(tc, true)

	case tc.Run >= 3:
		r.counters.Remaining--
		r.counters.Succeeded++
		tc.Output = &out
		r.indicator.HasRun(tc, false)

	default:
		tc.Run++
		tc.Output = &out
		r.pool.Add(pool.Job{TestID: tc.ID, Cmd: tc.Cmd, Run: tc.Run})
	}
	return true
}

// allocationSignature returns the last allocation trace line of out, or
// the empty string.
func (r *Runner) allocationSignature(out *model.Output) string {
	if out == nil {
		return ""
	}
	lines := strings.Split(out.Stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSuffix(lines[i], "\r")
		if strings.HasPrefix(line, allocationPrefix) {
			r.printedAllocations = true
			return line
		}
	}
	return ""
}
