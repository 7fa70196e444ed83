package testsuite

// outcomes.go contains the outcome classifier: it merges the expectation
// rules of a suite into the expected outcomes of a test and compares them
// with the observed result of an attempt.

import (
	"strings"

	"github.com/perfgo/testrunner/model"
	"github.com/perfgo/testrunner/statusfile"
)

// Judge holds the suite specific parts of result classification.
type Judge interface {
	// IsFailureOutput reports whether an execution failed, before negative
	// tests are taken into account.
	IsFailureOutput(tc *TestCase, out *model.Output) bool
	// IsNegativeTest reports whether tc is expected to fail when executed.
	IsNegativeTest(tc *TestCase) bool
}

// DefaultJudge treats a non-zero exit code as failure. Tests whose names
// start with one of NegativePrefixes are negative tests.
type DefaultJudge struct {
	NegativePrefixes []string
}

func (j DefaultJudge) IsFailureOutput(tc *TestCase, out *model.Output) bool {
	return out.ExitCode != 0
}

func (j DefaultJudge) IsNegativeTest(tc *TestCase) bool {
	for _, prefix := range j.NegativePrefixes {
		if strings.HasPrefix(tc.Name, prefix) {
			return true
		}
	}
	return false
}

type outcomesKey struct {
	name    string
	variant string
}

// GetStatusFileOutcomes merges the variant dependent and the variant
// independent rules that apply to testname. The result is cached for the
// lifetime of the suite as the rules never change after loading.
func (s *Suite) GetStatusFileOutcomes(testname, variant string) statusfile.Outcomes {
	key := outcomesKey{name: testname, variant: variant}
	if cached, ok := s.outcomesCache.Load(key); ok {
		return cached.(statusfile.Outcomes)
	}

	outcomes := statusfile.NewOutcomes()
	for _, v := range uniqueVariants(variant) {
		if rule, ok := s.rules.Exact[v][testname]; ok {
			outcomes = outcomes.Union(rule)
		}
		for prefix, rule := range s.rules.Prefix[v] {
			if strings.HasPrefix(testname, prefix) {
				outcomes = outcomes.Union(rule)
			}
		}
	}

	actual, _ := s.outcomesCache.LoadOrStore(key, outcomes)
	return actual.(statusfile.Outcomes)
}

func uniqueVariants(variant string) []string {
	if variant == "" {
		return []string{""}
	}
	return []string{variant, ""}
}

// GetExpectedOutcomes selects the outcomes an execution of tc may
// legitimately produce. A test without rules is expected to pass.
func (s *Suite) GetExpectedOutcomes(tc *TestCase) statusfile.Outcomes {
	outcomes := s.GetStatusFileOutcomes(tc.Name, tc.Variant)

	expected := statusfile.NewOutcomes()
	if outcomes.Has(statusfile.Fail) || outcomes.Has(statusfile.FailOK) {
		expected[statusfile.Fail] = struct{}{}
	}
	if outcomes.Has(statusfile.Crash) {
		expected[statusfile.Crash] = struct{}{}
	}
	if outcomes.Has(statusfile.Pass) {
		expected[statusfile.Pass] = struct{}{}
	}
	if len(expected) == 0 {
		expected[statusfile.Pass] = struct{}{}
	}
	return expected
}

// IsNegativeTest reports whether tc inverts failure semantics.
func (s *Suite) IsNegativeTest(tc *TestCase) bool {
	return s.judge.IsNegativeTest(tc)
}

// HasFailed reports whether out is a failure of tc, taking negative tests
// into account.
func (s *Suite) HasFailed(tc *TestCase, out *model.Output) bool {
	executionFailed := s.judge.IsFailureOutput(tc, out)
	if s.judge.IsNegativeTest(tc) {
		return !executionFailed
	}
	return executionFailed
}

// GetOutcome derives the actual outcome of an attempt.
func (s *Suite) GetOutcome(tc *TestCase, out *model.Output) statusfile.Outcome {
	switch {
	case out.HasCrashed():
		return statusfile.Crash
	case out.HasTimedOut():
		return statusfile.Timeout
	case s.HasFailed(tc, out):
		return statusfile.Fail
	default:
		return statusfile.Pass
	}
}

// HasUnexpectedOutput reports whether out is not acceptable for tc. In
// predictable mode correctness is judged by comparing allocation traces,
// so only the exit status of the run is checked here.
func (s *Suite) HasUnexpectedOutput(tc *TestCase, out *model.Output, predictable bool) bool {
	if predictable {
		return s.hasUnexpectedExit(tc, out)
	}
	return s.hasUnexpectedOutcome(tc, out)
}

// hasUnexpectedExit is the predictable mode check. Negative tests are not
// supported there, they usually don't print allocation traces either.
func (s *Suite) hasUnexpectedExit(tc *TestCase, out *model.Output) bool {
	return out.ExitCode != 0 &&
		!s.judge.IsNegativeTest(tc) &&
		!s.GetExpectedOutcomes(tc).Has(statusfile.Fail)
}

func (s *Suite) hasUnexpectedOutcome(tc *TestCase, out *model.Output) bool {
	return !s.GetExpectedOutcomes(tc).Has(s.GetOutcome(tc, out))
}
