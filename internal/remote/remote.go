// Package remote runs commands against the monitored target, either as
// buffered invocations or as live line streams.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Result is the collected output of a buffered command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Executor runs commands against a single target (host or container).
type Executor interface {
	// Target names the host or container commands run against.
	Target() string

	// RunBuffered runs argv to completion. A non-zero exit status is reported
	// through Result.ExitCode, not as an error; the error is non-nil only when
	// the command could not be started or ctx ended first. In the latter case
	// Result still holds whatever output was collected.
	RunBuffered(ctx context.Context, argv []string) (Result, error)

	// RunStreaming starts argv and returns a live handle on its stdout.
	RunStreaming(ctx context.Context, argv []string) (Stream, error)
}

// Stream is a running command whose stdout is delivered line by line.
type Stream interface {
	// Lines yields stdout lines in arrival order. It is closed at stdout EOF
	// or once Terminate has been called.
	Lines() <-chan string

	// Exited is closed once the process has exited and been reaped.
	Exited() <-chan struct{}

	// Terminate asks the process to stop, escalating to a kill if it does not.
	// Safe to call more than once.
	Terminate()

	// Wait blocks until the process is reaped. A non-zero exit is returned
	// as *ExitError.
	Wait() error

	// Stderr returns the stderr captured so far.
	Stderr() string

	// Err returns the error that stopped reading stdout early, such as a
	// line over the size limit, or nil. It is final once Exited is closed.
	Err() error
}

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("exit status %d", e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Shell wraps a script as an `sh -c` argv.
func Shell(script string) []string {
	return []string{"sh", "-c", script}
}

// New returns a docker exec executor for container, or a local executor when
// container is empty.
func New(container string) *Exec {
	if container == "" {
		return NewLocal()
	}
	return NewDocker(container)
}
