// Package progress reports the state of a test run while it executes.
package progress

import (
	"fmt"
	"io"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/testsuite"
	"github.com/rs/zerolog"
)

// Status is a snapshot of the run counters.
type Status struct {
	Total     int
	Remaining int
	Succeeded int
	Failed    int
	Crashed   int
	Reran     int
}

// StatusSource exposes the state of a run to indicators.
type StatusSource interface {
	Status() Status
	FailedTests() []*testsuite.TestCase
}

// Indicator receives run events. All methods are called from the
// goroutine driving the run and must not block for long.
type Indicator interface {
	Starting(src StatusSource)
	Heartbeat()
	// HasRun is called whenever an attempt finished and was reported;
	// unexpected is set when the result didn't match the expectations or
	// the test was rerun.
	HasRun(tc *testsuite.TestCase, unexpected bool)
	Done()
}

// Names lists the indicators accepted by New.
var Names = []string{"verbose", "dots", "compact", "mono"}

// New creates the indicator called name writing to w.
func New(name string, w io.Writer, logger zerolog.Logger) (Indicator, error) {
	switch name {
	case "verbose":
		return NewVerbose(w, logger), nil
	case "dots":
		return NewDots(w), nil
	case "compact":
		return NewCompact(w, clock.NewClock(), true), nil
	case "mono":
		return NewCompact(w, clock.NewClock(), false), nil
	}
	return nil, fmt.Errorf("unknown progress indicator %q", name)
}

// Outcome returns the outcome of the last attempt of tc.
func Outcome(tc *testsuite.TestCase) statusfile.Outcome {
	if tc.Output == nil || tc.Suite == nil {
		return ""
	}
	return tc.Suite.GetOutcome(tc, tc.Output)
}

// Verbose logs every finished test.
type Verbose struct {
	w      io.Writer
	logger zerolog.Logger
	src    StatusSource
}

// NewVerbose creates a Verbose indicator printing its summary to w.
func NewVerbose(w io.Writer, logger zerolog.Logger) *Verbose {
	return &Verbose{w: w, logger: logger}
}

func (v *Verbose) Starting(src StatusSource) {
	v.src = src
	v.logger.Info().Int("tests", src.Status().Total).Msg("Running tests")
}

func (v *Verbose) Heartbeat() {
	v.logger.Info().Msg("Still working...")
}

func (v *Verbose) HasRun(tc *testsuite.TestCase, unexpected bool) {
	event := v.logger.Info()
	if unexpected {
		event = v.logger.Warn()
	}
	event.
		Str("test", tc.Label()).
		Int("run", tc.Run).
		Dur("duration", tc.Duration).
		Str("outcome", string(Outcome(tc))).
		Bool("unexpected", unexpected).
		Msg("Done running")
	if unexpected {
		PrintFailure(v.w, tc)
	}
}

func (v *Verbose) Done() {
	PrintSummary(v.w, v.src)
}

// Dots prints one character per finished test.
type Dots struct {
	w     io.Writer
	src   StatusSource
	count int
}

// NewDots creates a Dots indicator.
func NewDots(w io.Writer) *Dots {
	return &Dots{w: w}
}

func (d *Dots) Starting(src StatusSource) {
	d.src = src
	fmt.Fprintf(d.w, "Running %d tests\n", src.Status().Total)
}

func (d *Dots) Heartbeat() {}

func (d *Dots) HasRun(tc *testsuite.TestCase, unexpected bool) {
	d.count++
	if d.count > 1 && d.count%50 == 1 {
		fmt.Fprintln(d.w)
	}
	if !unexpected {
		fmt.Fprint(d.w, ".")
		return
	}
	switch Outcome(tc) {
	case statusfile.Crash:
		fmt.Fprint(d.w, "C")
	case statusfile.Timeout:
		fmt.Fprint(d.w, "T")
	default:
		fmt.Fprint(d.w, "F")
	}
}

func (d *Dots) Done() {
	fmt.Fprintln(d.w)
	for _, tc := range d.src.FailedTests() {
		PrintFailure(d.w, tc)
	}
	PrintSummary(d.w, d.src)
}

// Compact keeps a single status line up to date.
type Compact struct {
	w     io.Writer
	clock clock.Clock
	color bool
	src   StatusSource
	start time.Time
}

// NewCompact creates a Compact indicator. With color set, the counters
// are highlighted with ANSI escapes.
func NewCompact(w io.Writer, c clock.Clock, color bool) *Compact {
	return &Compact{w: w, clock: c, color: color}
}

func (c *Compact) Starting(src StatusSource) {
	c.src = src
	c.start = c.clock.Now()
}

func (c *Compact) Heartbeat() {
	c.printLine("")
}

func (c *Compact) HasRun(tc *testsuite.TestCase, unexpected bool) {
	if unexpected {
		c.clearLine()
		PrintFailure(c.w, tc)
	}
	c.printLine(tc.Label())
}

func (c *Compact) Done() {
	c.printLine("Done")
	fmt.Fprintln(c.w)
	PrintSummary(c.w, c.src)
}

// StatusLine formats the current progress.
func (c *Compact) StatusLine(label string) string {
	s := c.src.Status()
	elapsed := c.clock.Since(c.start)
	percent := 0
	if s.Total > 0 {
		percent = (s.Total - s.Remaining) * 100 / s.Total
	}
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	if c.color {
		return fmt.Sprintf("[%02d:%02d|\033[34m%3d%%\033[0m|\033[32m+%4d\033[0m|\033[31m-%4d\033[0m]: %s",
			mins, secs, percent, s.Succeeded, s.Failed, label)
	}
	return fmt.Sprintf("[%02d:%02d|%3d%%|+%4d|-%4d]: %s", mins, secs, percent, s.Succeeded, s.Failed, label)
}

func (c *Compact) printLine(label string) {
	c.clearLine()
	fmt.Fprint(c.w, c.StatusLine(label))
}

func (c *Compact) clearLine() {
	if c.color {
		fmt.Fprint(c.w, "\r\033[K")
		return
	}
	fmt.Fprintf(c.w, "\r%80s\r", "")
}

// Multi forwards events to several indicators.
type Multi []Indicator

func (m Multi) Starting(src StatusSource) {
	for _, i := range m {
		i.Starting(src)
	}
}

func (m Multi) Heartbeat() {
	for _, i := range m {
		i.Heartbeat()
	}
}

func (m Multi) HasRun(tc *testsuite.TestCase, unexpected bool) {
	for _, i := range m {
		i.HasRun(tc, unexpected)
	}
}

func (m Multi) Done() {
	for _, i := range m {
		i.Done()
	}
}
