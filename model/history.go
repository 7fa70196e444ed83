package model

import "time"

// History represents a single testrunner invocation.
type History struct {
	// Unique ID for this run (UUID)
	ID string `json:"id"`
	// Timestamp when the run started
	Timestamp time.Time `json:"timestamp"`
	// Command-line arguments (including command name)
	Args []string `json:"args"`
	// Working directory where the command was run
	WorkDir string `json:"workdir"`
	// Exit code of the run (0, 1 or 2, see runner.Run)
	ExitCode int `json:"exit_code"`
	// Duration of the whole run
	Duration time.Duration `json:"duration"`
	// Git information
	Git *Git `json:"git,omitempty"`
	// Target execution environment
	Target *Target `json:"target,omitempty"`
	// Summary of the scheduled tests
	Summary *RunSummary `json:"summary,omitempty"`
}

// Git contains git repository information
type Git struct {
	// Git commit hash at time of execution
	Commit string `json:"commit,omitempty"`
	// Git branch at time of execution
	Branch string `json:"branch,omitempty"`
}

// Target contains information about the execution environment
type Target struct {
	// Operating system of the execution environment
	OS string `json:"os,omitempty"`
	// CPU architecture of the execution environment
	Arch string `json:"arch,omitempty"`
	// Build mode of the binaries under test (e.g. release, debug)
	Mode string `json:"mode,omitempty"`
}

// RunSummary contains the scheduler counters at the end of a run.
type RunSummary struct {
	Suites      []string `json:"suites,omitempty"`
	Variants    []string `json:"variants,omitempty"`
	Predictable bool     `json:"predictable,omitempty"`
	// Attempts scheduled, including reruns
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Crashed   int `json:"crashed"`
	Remaining int `json:"remaining"`
	// Distinct tests that were rerun at least once
	Reran int `json:"reran"`
	// Labels of the failed tests, in failure order
	Failed []string `json:"failed,omitempty"`
}
