package variants

// variants.go defines the catalogue of testing variants. A variant is a
// named configuration of the binary under test; each variant expands into
// one or more concrete flag combinations.

import "sort"

// Default is the name of the standard variant.
const Default = "default"

// AllFlags maps every known variant to its flag combinations.
var AllFlags = map[string][][]string{
	"default":        {{}},
	"future":         {{"--future"}},
	"nooptimization": {{"--no-opt"}},
	"stress":         {{"--stress-opt", "--always-opt"}, {"--stress-opt", "--no-always-opt"}},
	"turbofan":       {{"--turbo"}},
	"turbofan_opt":   {{"--turbo", "--always-opt"}},
	"slow_path":      {{"--force-slow-path"}},
}

// FastFlags holds the reduced flag tables used by tests marked
// FAST_VARIANTS.
var FastFlags = map[string][][]string{
	"default":        {{}},
	"future":         {{"--future"}},
	"nooptimization": {{"--no-opt"}},
	"stress":         {{"--stress-opt"}},
	"turbofan":       {{"--turbo"}},
	"turbofan_opt":   {{"--turbo", "--always-opt"}},
	"slow_path":      {{"--force-slow-path"}},
}

// Set is a set of variant names.
type Set map[string]struct{}

// NewSet builds a set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Intersect returns the names present in both s and other.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for n := range s {
		if _, ok := other[n]; ok {
			out[n] = struct{}{}
		}
	}
	return out
}

// Sorted returns the names in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var (
	// All contains every variant of the catalogue.
	All = func() Set {
		s := make(Set, len(AllFlags))
		for n := range AllFlags {
			s[n] = struct{}{}
		}
		return s
	}()
	// Fast contains the variants cheap enough for FAST_VARIANTS tests.
	Fast = NewSet("default", "turbofan")
	// Standard contains only the default variant.
	Standard = NewSet(Default)
)

// Known reports whether name is part of the catalogue.
func Known(name string) bool {
	_, ok := All[name]
	return ok
}
