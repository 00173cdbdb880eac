package execute

import (
	"errors"
	"fmt"
	"strings"
)

// Runner runs a shell command on a remote host and returns its captured
// output. *auth.SSHClient satisfies it.
type Runner interface {
	ExecuteCommand(command string) (stdout string, stderr string, err error)
}

// RemoteCommandError reports a remote command that exited non-zero or could
// not be run at all (ExitCode -1).
type RemoteCommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *RemoteCommandError) Error() string {
	var b strings.Builder
	if e.ExitCode < 0 {
		fmt.Fprintf(&b, "command %q failed: %v", e.Command, e.Err)
	} else {
		fmt.Fprintf(&b, "command %q failed with exit code %d", e.Command, e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", s)
	}
	if s := strings.TrimSpace(e.Stdout); s != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", s)
	}
	return b.String()
}

func (e *RemoteCommandError) Unwrap() error { return e.Err }

// exitStatuser is implemented by *ssh.ExitError.
type exitStatuser interface {
	ExitStatus() int
}

// Executor runs commands synchronously on one connection.
type Executor struct {
	runner Runner
}

// NewExecutor creates a new executor bound to a connection
func NewExecutor(runner Runner) *Executor {
	return &Executor{runner: runner}
}

// Run executes command, waits for it to exit and returns stdout split into
// lines. It never retries.
func (e *Executor) Run(command string) ([]string, error) {
	stdout, stderr, err := e.runner.ExecuteCommand(command)
	if err != nil {
		cmdErr := &RemoteCommandError{
			Command:  command,
			ExitCode: -1,
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      err,
		}
		var status exitStatuser
		if errors.As(err, &status) {
			cmdErr.ExitCode = status.ExitStatus()
		}
		return nil, cmdErr
	}

	return SplitLines(stdout), nil
}

// SplitLines splits command output into lines, dropping the empty line left
// by a trailing newline and any carriage returns.
func SplitLines(output string) []string {
	if output == "" {
		return []string{}
	}
	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
