package remote

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// cmdStream implements Stream over an exec.Cmd.
type cmdStream struct {
	cmd       *exec.Cmd
	killGrace time.Duration

	lines  chan string
	exited chan struct{}
	stop   chan struct{}
	once   sync.Once

	stderr  syncBuffer
	readErr error
	waitErr error
}

// maxLineSize bounds one stdout line. Long tracebacks arrive as many lines,
// so only pathological output reaches it.
const maxLineSize = 1024 * 1024

func newCmdStream(cmd *exec.Cmd, killGrace time.Duration) *cmdStream {
	return &cmdStream{
		cmd:       cmd,
		killGrace: killGrace,
		lines:     make(chan string, 64),
		exited:    make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

func (s *cmdStream) run(stdout io.Reader) {
	defer close(s.exited)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	stopped := false
	for !stopped && scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.stop:
			stopped = true
		}
	}
	if err := scanner.Err(); err != nil && !stopped {
		s.readErr = fmt.Errorf("reading stdout of pid %d: %w", s.PID(), err)
	}
	close(s.lines)

	if s.readErr != nil {
		slog.Warn("stream read failed", "error", s.readErr)
		// Nobody reads stdout anymore, so the process must not be left blocked on it.
		s.Terminate()
	}

	s.waitErr = s.cmd.Wait()
}

func (s *cmdStream) Lines() <-chan string { return s.lines }

func (s *cmdStream) Exited() <-chan struct{} { return s.exited }

func (s *cmdStream) Terminate() {
	s.once.Do(func() {
		close(s.stop)
		if err := signalGroup(s.cmd.Process, unix.SIGTERM); err != nil {
			slog.Debug("terminate: signal failed", "error", err)
		}
		go func() {
			select {
			case <-s.exited:
			case <-time.After(s.killGrace):
				slog.Warn("process ignored SIGTERM, killing", "pid", s.PID())
				_ = signalGroup(s.cmd.Process, unix.SIGKILL)
			}
		}()
	})
}

func (s *cmdStream) Wait() error {
	<-s.exited
	if s.waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(s.waitErr, &exitErr) {
		return &ExitError{Code: exitErr.ExitCode(), Stderr: s.stderr.String(), Err: s.waitErr}
	}
	return s.waitErr
}

func (s *cmdStream) Stderr() string { return s.stderr.String() }

func (s *cmdStream) Err() error {
	select {
	case <-s.exited:
		return s.readErr
	default:
		return nil
	}
}

// PID returns the process ID of the running command.
func (s *cmdStream) PID() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
