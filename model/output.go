package model

// Output is the result of a single test process execution.
type Output struct {
	// Exit code of the process. Negative when the process was killed by a signal.
	ExitCode int `json:"exit_code"`
	// Captured standard output
	Stdout string `json:"stdout,omitempty"`
	// Captured standard error
	Stderr string `json:"stderr,omitempty"`
	// Process ID, 0 if the process never started
	PID int `json:"pid,omitempty"`
	// Crashed is set when the process terminated abnormally
	Crashed bool `json:"crashed,omitempty"`
	// TimedOut is set when the process was killed after exceeding its timeout
	TimedOut bool `json:"timed_out,omitempty"`
}

// HasCrashed reports whether the process terminated abnormally.
func (o *Output) HasCrashed() bool {
	return o.Crashed
}

// HasTimedOut reports whether the process was killed on timeout.
func (o *Output) HasTimedOut() bool {
	return o.TimedOut
}
