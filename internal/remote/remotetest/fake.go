// Package remotetest provides in-memory executors for tests.
package remotetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/setevik/vllmscope/internal/remote"
)

// Executor is a scriptable remote.Executor. Buffered and Stream are called
// for every invocation; a nil hook yields an empty successful result.
type Executor struct {
	Name     string
	Buffered func(ctx context.Context, argv []string) (remote.Result, error)
	Stream   func(ctx context.Context, argv []string) (remote.Stream, error)

	mu    sync.Mutex
	calls [][]string
}

func (e *Executor) Target() string {
	if e.Name == "" {
		return "fake"
	}
	return e.Name
}

func (e *Executor) RunBuffered(ctx context.Context, argv []string) (remote.Result, error) {
	e.record(argv)
	if e.Buffered == nil {
		return remote.Result{}, nil
	}
	return e.Buffered(ctx, argv)
}

func (e *Executor) RunStreaming(ctx context.Context, argv []string) (remote.Stream, error) {
	e.record(argv)
	if e.Stream == nil {
		return NewStream(), nil
	}
	return e.Stream(ctx, argv)
}

// Calls returns every argv run so far, joined with spaces.
func (e *Executor) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

func (e *Executor) record(argv []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, append([]string(nil), argv...))
}

// Output returns a Buffered hook that always yields stdout with exit 0.
func Output(stdout string) func(context.Context, []string) (remote.Result, error) {
	return func(context.Context, []string) (remote.Result, error) {
		return remote.Result{Stdout: []byte(stdout)}, nil
	}
}

// Stream is a controllable remote.Stream.
type Stream struct {
	mu     sync.Mutex
	lines  chan string
	exited chan struct{}
	closed  bool
	code    int
	stderr  string
	readErr error

	terminated atomic.Bool
	waited     atomic.Bool
}

// NewStream returns a running stream with no output yet.
func NewStream() *Stream {
	return &Stream{
		lines:  make(chan string, 256),
		exited: make(chan struct{}),
	}
}

// Emit delivers a stdout line. Lines emitted after exit are dropped.
func (s *Stream) Emit(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, l := range lines {
		s.lines <- l
	}
}

// Exit ends the process with the given status. Only the first call counts.
func (s *Stream) Exit(code int, stderr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.code = code
	s.stderr = stderr
	close(s.lines)
	close(s.exited)
}

// Fail ends the stream as if reading stdout broke with err; the process
// is then stopped, as the real stream does.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	if !s.closed {
		s.readErr = err
	}
	s.mu.Unlock()
	s.Exit(-1, "")
}

func (s *Stream) Lines() <-chan string { return s.lines }

func (s *Stream) Exited() <-chan struct{} { return s.exited }

func (s *Stream) Terminate() {
	s.terminated.Store(true)
	s.Exit(-1, "")
}

func (s *Stream) Wait() error {
	<-s.exited
	s.waited.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.code != 0 {
		return &remote.ExitError{Code: s.code, Stderr: s.stderr}
	}
	return nil
}

func (s *Stream) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stderr
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

// Terminated reports whether Terminate was called.
func (s *Stream) Terminated() bool { return s.terminated.Load() }

// Reaped reports whether Wait has returned.
func (s *Stream) Reaped() bool { return s.waited.Load() }
