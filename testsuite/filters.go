package testsuite

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/variants"
)

// Mode selects what to do with tests of a category.
type Mode string

const (
	// ModeDefault runs the tests of the category.
	ModeDefault Mode = ""
	// ModeSkip skips the tests of the category.
	ModeSkip Mode = "skip"
	// ModeRun runs only the tests of the category.
	ModeRun Mode = "run"
)

// ParseMode validates a mode given on the command line.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDefault, ModeSkip, ModeRun:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode %q, expected %q or %q", s, ModeSkip, ModeRun)
}

func (m Mode) skips(inCategory bool) bool {
	return (m == ModeRun && !inCategory) || (m == ModeSkip && inCategory)
}

// FilterTestCasesByStatus drops skipped tests and applies the slow and
// pass-or-fail modes.
func (s *Suite) FilterTestCasesByStatus(slowMode, passFailMode Mode) {
	filtered := s.Tests[:0]
	for _, tc := range s.Tests {
		outcomes := s.GetStatusFileOutcomes(tc.Name, tc.Variant)
		if statusfile.DoSkip(outcomes) {
			continue
		}
		if slowMode.skips(statusfile.IsSlow(outcomes)) {
			continue
		}
		if passFailMode.skips(statusfile.IsPassOrFail(outcomes)) {
			continue
		}
		filtered = append(filtered, tc)
	}
	s.Tests = filtered
}

// FilterTestCasesByArgs keeps the tests selected by command line
// arguments of the form "suite/glob". An argument naming just the suite, or
// "suite/*", keeps all tests. Globs are matched against test names with
// path.Match.
func (s *Suite) FilterTestCasesByArgs(args []string) {
	var globs []string
	for _, arg := range args {
		parts := strings.Split(arg, "/")
		if parts[0] != s.Name {
			continue
		}
		if len(parts) == 1 || (len(parts) == 2 && parts[1] == "*") {
			return
		}
		globs = append(globs, strings.Join(parts[1:], "/"))
	}

	var filtered []*TestCase
	for _, tc := range s.Tests {
		for _, g := range globs {
			if ok, _ := path.Match(g, tc.Name); ok {
				filtered = append(filtered, tc)
				break
			}
		}
	}
	s.Tests = filtered
}

// UnusedRule is an expectation that didn't apply to any test.
type UnusedRule struct {
	Rule     string
	Variant  string
	Prefix   bool
	Outcomes statusfile.Outcomes
}

func (r UnusedRule) String() string {
	desc := "variant independent"
	if r.Variant != "" {
		desc = "variant: " + r.Variant
	}
	rule := r.Rule
	if r.Prefix {
		rule += "*"
	}
	return fmt.Sprintf("Unused rule: %s -> %s (%s)", rule, r.Outcomes, desc)
}

type ruleKey struct {
	rule    string
	variant string
	prefix  bool
}

// WarnUnusedRules returns the rules that apply to no test of the suite. A
// rule is also unused when every matching test was skipped by an earlier
// rule. Variant specific rules are only checked when checkVariantRules is
// set.
func (s *Suite) WarnUnusedRules(checkVariantRules bool) []UnusedRule {
	used := make(map[ruleKey]bool)
	for _, tc := range s.Tests {
		variant := tc.Variant

		if outcomes, ok := s.rules.Exact[variant][tc.Name]; ok {
			used[ruleKey{tc.Name, variant, false}] = true
			if statusfile.DoSkip(outcomes) {
				continue
			}
		}

		for _, prefix := range sortedKeys(s.rules.Prefix[variant]) {
			if strings.HasPrefix(tc.Name, prefix) {
				used[ruleKey{prefix, variant, true}] = true
				if statusfile.DoSkip(s.rules.Prefix[variant][prefix]) {
					break
				}
			}
		}
	}

	checked := []string{""}
	if checkVariantRules {
		checked = variants.All.Sorted()
	}

	var unused []UnusedRule
	for _, variant := range checked {
		for _, rule := range sortedKeys(s.rules.Exact[variant]) {
			if !used[ruleKey{rule, variant, false}] {
				unused = append(unused, UnusedRule{Rule: rule, Variant: variant, Outcomes: s.rules.Exact[variant][rule]})
			}
		}
		for _, rule := range sortedKeys(s.rules.Prefix[variant]) {
			if !used[ruleKey{rule, variant, true}] {
				unused = append(unused, UnusedRule{Rule: rule, Variant: variant, Prefix: true, Outcomes: s.rules.Prefix[variant][rule]})
			}
		}
	}
	return unused
}

func sortedKeys(m map[string]statusfile.Outcomes) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
