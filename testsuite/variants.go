package testsuite

// variants.go narrows the requested variants to the ones exercised by
// each test and expands tests into one test case per flag combination.

import (
	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/variants"
)

// VariantGenerator selects the variants and flag sets of a test.
type VariantGenerator interface {
	FilterVariantsByTest(tc *TestCase) []string
	GetFlagSets(tc *TestCase, variant string) [][]string
}

type variantGenerator struct {
	suite           *Suite
	allVariants     variants.Set
	fastVariants    variants.Set
	standardVariant variants.Set
}

// NewVariantGenerator returns the generator that honours NO_VARIANTS and
// FAST_VARIANTS expectations.
func NewVariantGenerator(suite *Suite, requested []string) VariantGenerator {
	return newVariantGenerator(suite, requested)
}

func newVariantGenerator(suite *Suite, requested []string) *variantGenerator {
	req := variants.NewSet(requested...)
	return &variantGenerator{
		suite:           suite,
		allVariants:     variants.All.Intersect(req),
		fastVariants:    variants.Fast.Intersect(req),
		standardVariant: variants.Standard.Intersect(req),
	}
}

func (g *variantGenerator) FilterVariantsByTest(tc *TestCase) []string {
	outcomes := g.suite.GetStatusFileOutcomes(tc.Name, tc.Variant)
	if statusfile.OnlyStandardVariant(outcomes) {
		return g.standardVariant.Sorted()
	}
	if statusfile.OnlyFastVariants(outcomes) {
		return g.fastVariants.Sorted()
	}
	return g.allVariants.Sorted()
}

func (g *variantGenerator) GetFlagSets(tc *TestCase, variant string) [][]string {
	outcomes := g.suite.GetStatusFileOutcomes(tc.Name, tc.Variant)
	if statusfile.OnlyFastVariants(outcomes) {
		return variants.FastFlags[variant]
	}
	return variants.AllFlags[variant]
}

// StandardVariantGenerator is used by suites that don't support variants:
// every test runs in the standard variant only.
type StandardVariantGenerator struct {
	*variantGenerator
}

// NewStandardVariantGenerator creates a StandardVariantGenerator.
func NewStandardVariantGenerator(suite *Suite, requested []string) *StandardVariantGenerator {
	return &StandardVariantGenerator{variantGenerator: newVariantGenerator(suite, requested)}
}

func (g *StandardVariantGenerator) FilterVariantsByTest(tc *TestCase) []string {
	return g.standardVariant.Sorted()
}

// CreateVariantGenerator returns the generator configured for the suite.
func (s *Suite) CreateVariantGenerator(requested []string) VariantGenerator {
	if s.config.StandardVariantOnly {
		return NewStandardVariantGenerator(s, requested)
	}
	return NewVariantGenerator(s, requested)
}

// ExpandVariants replaces every test of the suite with one test case per
// variant and flag combination selected by gen.
func (s *Suite) ExpandVariants(gen VariantGenerator) {
	var expanded []*TestCase
	for _, base := range s.Tests {
		for _, variant := range gen.FilterVariantsByTest(base) {
			for _, flags := range gen.GetFlagSets(base, variant) {
				tc := base.copyFor(variant, flags)
				tc.Cmd = s.buildCommand(tc, flags)
				expanded = append(expanded, tc)
			}
		}
	}
	s.Tests = expanded
}
