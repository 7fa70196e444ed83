package runner

import (
	"github.com/perfgo/testrunner/pool"
	"github.com/perfgo/testrunner/testsuite"
)

// maybeRerun schedules another attempt of a failed test while the rerun
// budgets allow it.
func (r *Runner) maybeRerun(tc *testsuite.TestCase) {
	// The count doesn't include the first run.
	if tc.Run > r.cfg.RerunFailuresCount {
		return
	}
	if tc.Run == 1 {
		if r.counters.RerunTests >= r.cfg.RerunFailuresMax {
			return
		}
		r.counters.RerunTests++
	}
	// Slow tests are rerun at most once.
	if tc.Run >= 2 && tc.Duration > r.cfg.Timeout/20 {
		return
	}

	tc.Duration = 0
	tc.Output = nil
	tc.Run++
	r.pool.Add(pool.Job{TestID: tc.ID, Cmd: tc.Cmd, Run: tc.Run})
	r.counters.Total++
	r.counters.Remaining++
}
