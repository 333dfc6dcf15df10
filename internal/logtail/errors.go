package logtail

import (
	"fmt"
	"strings"
)

// RemoteReadError reports a remote command that failed or a log file that
// could not be read. It is surfaced to the caller and never retried here.
type RemoteReadError struct {
	Target   string
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *RemoteReadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "remote read on %s failed: %s", e.Target, e.Command)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	} else {
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (stderr: %s)", s)
	}
	return b.String()
}

func (e *RemoteReadError) Unwrap() error { return e.Err }

// StreamError wraps an unexpected failure that ended a live tail.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("log stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
