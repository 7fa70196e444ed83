package perfdata

// profile.go exports stored durations as a pprof profile: every test is a
// two frame stack "suite -> test", weighted by its average duration.

import (
	"fmt"
	"time"

	"github.com/google/pprof/profile"
)

type profileBuilder struct {
	profile   *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
}

// Profile converts entries into a profile with a wall time and a run count
// sample value per test.
func Profile(entries []Entry) *profile.Profile {
	b := &profileBuilder{
		profile: &profile.Profile{
			SampleType: []*profile.ValueType{
				{Type: "wall", Unit: "nanoseconds"},
				{Type: "runs", Unit: "count"},
			},
			TimeNanos:  time.Now().UnixNano(),
			PeriodType: &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
			Period:     1,
		},
		functions: make(map[string]*profile.Function),
		locations: make(map[string]*profile.Location),
	}

	for _, e := range entries {
		name := e.Test
		if e.Variant != "" {
			name = fmt.Sprintf("%s [%s]", e.Test, e.Variant)
		}
		// Leaf first.
		stack := []*profile.Location{
			b.getOrCreateLocation(e.Suite + "/" + name),
			b.getOrCreateLocation(e.Suite),
		}
		sample := &profile.Sample{
			Location: stack,
			Value:    []int64{int64(e.Duration()), int64(e.Count)},
		}
		if e.Variant != "" {
			sample.Label = map[string][]string{"variant": {e.Variant}}
		}
		b.profile.Sample = append(b.profile.Sample, sample)
	}

	return b.profile
}

func (b *profileBuilder) getOrCreateFunction(name string) *profile.Function {
	if fn, exists := b.functions[name]; exists {
		return fn
	}
	fn := &profile.Function{
		ID:   uint64(len(b.profile.Function) + 1),
		Name: name,
	}
	b.functions[name] = fn
	b.profile.Function = append(b.profile.Function, fn)
	return fn
}

func (b *profileBuilder) getOrCreateLocation(name string) *profile.Location {
	if loc, exists := b.locations[name]; exists {
		return loc
	}
	loc := &profile.Location{
		ID:   uint64(len(b.profile.Location) + 1),
		Line: []profile.Line{{Function: b.getOrCreateFunction(name)}},
	}
	b.locations[name] = loc
	b.profile.Location = append(b.profile.Location, loc)
	return loc
}
