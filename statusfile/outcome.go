package statusfile

// outcome.go contains the outcome tags used by expectation files and
// the predicates the scheduler uses to interpret them.

import (
	"fmt"
	"sort"
	"strings"
)

// Outcome is a classification label, either declared in an expectations
// file or derived from a test execution.
type Outcome string

const (
	Pass    Outcome = "PASS"
	Fail    Outcome = "FAIL"
	FailOK  Outcome = "FAIL_OK"
	Crash   Outcome = "CRASH"
	Timeout Outcome = "TIMEOUT"
	Okay    Outcome = "OKAY"
	Skip    Outcome = "SKIP"
	Slow    Outcome = "SLOW"

	// FastVariants restricts a test to the fast variants and their
	// reduced flag tables.
	FastVariants Outcome = "FAST_VARIANTS"
	// NoVariants restricts a test to the standard variant.
	NoVariants Outcome = "NO_VARIANTS"
)

// Known lists every outcome accepted in an expectations file.
var Known = []Outcome{Pass, Fail, FailOK, Crash, Timeout, Okay, Skip, Slow, FastVariants, NoVariants}

// ParseOutcome converts a tag as written in an expectations file.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToUpper(strings.TrimSpace(s)))
	for _, k := range Known {
		if k == o {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Outcomes is an immutable-by-convention set of outcome tags.
type Outcomes map[Outcome]struct{}

// NewOutcomes builds a set from the given tags.
func NewOutcomes(outcomes ...Outcome) Outcomes {
	s := make(Outcomes, len(outcomes))
	for _, o := range outcomes {
		s[o] = struct{}{}
	}
	return s
}

// Has reports whether o is in the set.
func (s Outcomes) Has(o Outcome) bool {
	_, ok := s[o]
	return ok
}

// Union returns a new set containing the tags of s and other.
func (s Outcomes) Union(other Outcomes) Outcomes {
	u := make(Outcomes, len(s)+len(other))
	for o := range s {
		u[o] = struct{}{}
	}
	for o := range other {
		u[o] = struct{}{}
	}
	return u
}

// Sorted returns the tags in lexical order.
func (s Outcomes) Sorted() []Outcome {
	out := make([]Outcome, 0, len(s))
	for o := range s {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Outcomes) String() string {
	parts := make([]string, 0, len(s))
	for _, o := range s.Sorted() {
		parts = append(parts, string(o))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func DoSkip(outcomes Outcomes) bool {
	return outcomes.Has(Skip)
}

func IsSlow(outcomes Outcomes) bool {
	return outcomes.Has(Slow)
}

// IsPassOrFail reports whether a test is declared flaky between PASS and FAIL.
func IsPassOrFail(outcomes Outcomes) bool {
	return outcomes.Has(Pass) && outcomes.Has(Fail) && !outcomes.Has(Crash) && !outcomes.Has(Okay)
}

func OnlyStandardVariant(outcomes Outcomes) bool {
	return outcomes.Has(NoVariants)
}

func OnlyFastVariants(outcomes Outcomes) bool {
	return outcomes.Has(FastVariants)
}
