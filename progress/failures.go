package progress

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/perfgo/testrunner/statusfile"
	"github.com/perfgo/testrunner/testsuite"
)

// PrintFailure writes the output of the last attempt of tc.
func PrintFailure(w io.Writer, tc *testsuite.TestCase) {
	fmt.Fprintf(w, "=== %s ===\n", tc.Label())
	out := tc.Output
	if out == nil {
		fmt.Fprintln(w, "--- no output ---")
		return
	}
	if s := strings.TrimSpace(out.Stdout); s != "" {
		fmt.Fprintf(w, "--- stdout ---\n%s\n", s)
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		fmt.Fprintf(w, "--- stderr ---\n%s\n", s)
	}
	fmt.Fprintf(w, "Command: %s\n", tc.Cmd)
	fmt.Fprintf(w, "Run: %d\n", tc.Run)
	switch {
	case out.HasCrashed():
		fmt.Fprintf(w, "exit code: %d\n--- CRASHED ---\n", out.ExitCode)
	case out.HasTimedOut():
		fmt.Fprintln(w, "--- TIMEOUT ---")
	default:
		fmt.Fprintf(w, "exit code: %d\n", out.ExitCode)
	}
}

// FailureTable renders one row per failed test.
func FailureTable(w io.Writer, failed []*testsuite.TestCase) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Failed tests")
	t.AppendHeader(table.Row{"Test", "Variant", "Outcome", "Expected", "Exit code", "Run", "Duration"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Exit code", Align: text.AlignRight},
		{Name: "Run", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, tc := range failed {
		name := tc.Name
		expected := statusfile.NewOutcomes(statusfile.Pass)
		if tc.Suite != nil {
			name = tc.Suite.Name + "/" + tc.Name
			expected = tc.Suite.GetExpectedOutcomes(tc)
		}
		exitCode := ""
		if tc.Output != nil {
			exitCode = fmt.Sprint(tc.Output.ExitCode)
		}
		t.AppendRow(table.Row{name, tc.Variant, Outcome(tc), expected.String(), exitCode, tc.Run, tc.Duration})
	}

	t.SetStyle(table.StyleLight)
	t.Render()
}

// PrintSummary writes the final counters and the failure table.
func PrintSummary(w io.Writer, src StatusSource) {
	if src == nil {
		return
	}
	s := src.Status()
	failed := src.FailedTests()
	if len(failed) > 0 {
		FailureTable(w, failed)
		fmt.Fprintf(w, "=== %d tests failed\n", s.Failed)
		if s.Crashed > 0 {
			fmt.Fprintf(w, "=== %d tests CRASHED\n", s.Crashed)
		}
	} else {
		fmt.Fprintln(w, "===")
		fmt.Fprintln(w, "=== All tests succeeded")
		fmt.Fprintln(w, "===")
	}
	if s.Reran > 0 {
		fmt.Fprintf(w, "=== %d tests were rerun\n", s.Reran)
	}
}
