package testsuite

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/perfgo/testrunner/command"
	"github.com/perfgo/testrunner/model"
)

// TestCase is one test of a suite under one variant and flag combination.
// Run, Duration and Output are only mutated by the scheduler goroutine.
type TestCase struct {
	// ID is assigned by the scheduler, dense and unique per run. -1 until then.
	ID   int
	Name string
	// Path of the test file, relative to the suite root
	Path    string
	Variant string
	// Flags is the concrete flag combination of Variant
	Flags []string
	Suite *Suite

	// Run is the attempt counter, starting at 1
	Run int
	// Duration of the last attempt, zero when unset
	Duration time.Duration
	// Output of the last attempt, nil when unset
	Output *model.Output

	Cmd command.Command
}

// Label returns a human readable identification of the test.
func (t *TestCase) Label() string {
	label := t.Name
	if t.Suite != nil {
		label = t.Suite.Name + "/" + t.Name
	}
	if t.Variant != "" {
		label = fmt.Sprintf("%s [%s]", label, t.Variant)
	}
	return label
}

// Key identifies the test across runs, e.g. for the duration store. Tests
// that only differ in their flags get different keys.
func (t *TestCase) Key() string {
	suite := ""
	if t.Suite != nil {
		suite = t.Suite.Name
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{suite, t.Name, t.Variant, strings.Join(t.Flags, " ")}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// copyFor returns a fresh test case for a variant and flag combination.
func (t *TestCase) copyFor(variant string, flags []string) *TestCase {
	return &TestCase{
		ID:      -1,
		Name:    t.Name,
		Path:    t.Path,
		Variant: variant,
		Flags:   append([]string(nil), flags...),
		Suite:   t.Suite,
		Run:     1,
	}
}
