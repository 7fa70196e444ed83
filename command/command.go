// Package command runs a single test process with a timeout and reports
// its exit status in the form the scheduler classifies.
package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/perfgo/testrunner/model"
	"github.com/shirou/gopsutil/v3/process"
)

// ExitCodeNotStarted is reported when the process could not be started.
const ExitCodeNotStarted = 127

// Command describes how to invoke one test. It only holds copies of its
// inputs, so values can be passed between goroutines freely.
type Command struct {
	Shell   string
	Args    []string
	Env     []string
	Timeout time.Duration
}

// New creates a command, copying args and env.
func New(shell string, args []string, env []string, timeout time.Duration) Command {
	return Command{
		Shell:   shell,
		Args:    append([]string(nil), args...),
		Env:     append([]string(nil), env...),
		Timeout: timeout,
	}
}

// IsZero reports whether no executable was set.
func (c Command) IsZero() bool {
	return c.Shell == ""
}

// String renders the command line with proper shell escaping.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+1)
	for _, env := range c.Env {
		parts = append(parts, shellescape.Quote(env))
	}
	parts = append(parts, shellescape.Quote(c.Shell))
	for _, arg := range c.Args {
		parts = append(parts, shellescape.Quote(arg))
	}
	return strings.Join(parts, " ")
}

// Execute runs the command to completion. Failures to run the process are
// reported through the returned output rather than an error: the scheduler
// treats every attempt as a classified result.
func (c Command) Execute(ctx context.Context) model.Output {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.Command(c.Shell, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	// Don't hang on grandchildren that inherited our pipes.
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return model.Output{
			ExitCode: ExitCodeNotStarted,
			Stderr:   err.Error(),
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		timedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		killTree(int32(cmd.Process.Pid))
		waitErr = <-done
	}

	exitCode := exitCodeOf(cmd.ProcessState, waitErr)
	return model.Output{
		ExitCode: exitCode,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		PID:      cmd.Process.Pid,
		Crashed:  !timedOut && isCrash(exitCode),
		TimedOut: timedOut,
	}
}

// exitCodeOf returns the process exit code, or the negated signal number
// when the process was killed by a signal.
func exitCodeOf(state *os.ProcessState, waitErr error) int {
	if state == nil {
		if waitErr != nil {
			return ExitCodeNotStarted
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// isCrash reports whether an exit code stands for an abnormal termination.
// Aborts are deliberate (e.g. failed assertions) and count as failures.
func isCrash(exitCode int) bool {
	return exitCode < 0 && exitCode != -int(syscall.SIGABRT)
}

// killTree kills pid and all of its descendants, children first.
func killTree(pid int32) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return
	}
	if children, err := proc.Children(); err == nil {
		for _, child := range children {
			killTree(child.Pid)
		}
	}
	_ = proc.Kill()
}
