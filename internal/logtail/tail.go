package logtail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/logparse"
	"github.com/setevik/vllmscope/internal/remote"
)

// EndReason says why a live tail stopped.
type EndReason string

const (
	EndRunning   EndReason = ""
	EndEOF       EndReason = "eof"
	EndIdle      EndReason = "idle"
	EndCancelled EndReason = "cancelled"
	EndFailed    EndReason = "failed"
)

// Tail is a live, cancellable sequence of parsed log entries. Entries are
// delivered in arrival order on a bounded channel; a slow consumer applies
// back-pressure rather than losing lines.
type Tail struct {
	target  string
	entries chan logparse.Entry
	done    chan struct{}
	cancel  context.CancelFunc

	// base is the file offset the follow command started at, or -1.
	base int64

	// Written by run before done is closed.
	err      error
	reason   EndReason
	reaped   bool
	consumed int64
}

// Stream starts following the log file. Existing lines are skipped except
// for the policy's Backlog. A follow command that fails within StartGrace
// is reported as a *RemoteReadError. Every exit path terminates and reaps
// the remote process before the entry channel is closed.
func (e *Engine) Stream(ctx context.Context) (*Tail, error) {
	argv := []string{"tail", "-n", strconv.Itoa(e.policy.Backlog), "-f", e.path}
	return e.start(ctx, argv, -1)
}

// StreamFrom is Stream starting at byte offset of the file instead of its
// end. The returned tail knows its position; see Tail.Offset.
func (e *Engine) StreamFrom(ctx context.Context, offset int64) (*Tail, error) {
	if offset < 0 {
		offset = 0
	}
	argv := []string{"tail", "-c", "+" + strconv.FormatInt(offset+1, 10), "-f", e.path}
	return e.start(ctx, argv, offset)
}

// start runs the follow command. base is the file offset of its first byte
// of output, or -1 when unknown.
func (e *Engine) start(ctx context.Context, argv []string, base int64) (*Tail, error) {
	tctx, cancel := context.WithCancel(ctx)
	h, err := e.exec.RunStreaming(tctx, argv)
	if err != nil {
		cancel()
		return nil, e.readError(argv, remote.Result{ExitCode: -1}, err)
	}

	grace := time.NewTimer(e.policy.StartGrace)
	defer grace.Stop()

	select {
	case <-h.Exited():
		if werr := h.Wait(); werr != nil {
			cancel()
			rerr := &RemoteReadError{
				Target:   e.exec.Target(),
				Command:  strings.Join(argv, " "),
				ExitCode: -1,
				Stderr:   h.Stderr(),
			}
			var exitErr *remote.ExitError
			if errors.As(werr, &exitErr) {
				rerr.ExitCode = exitErr.Code
			} else {
				rerr.Err = werr
			}
			slog.Error("log stream failed to start", "error", rerr)
			return nil, rerr
		}
		// Exited cleanly already; whatever it printed is still drained below.
	case <-grace.C:
	case <-ctx.Done():
		h.Terminate()
		_ = h.Wait()
		cancel()
		return nil, ctx.Err()
	}

	t := &Tail{
		target:  e.exec.Target(),
		entries: make(chan logparse.Entry, e.policy.Buffer),
		done:    make(chan struct{}),
		cancel:  cancel,
		base:    base,
	}

	slog.Info("log stream started", "target", t.target, "path", e.path, "command", strings.Join(argv, " "))
	go t.run(tctx, h, e.policy, e.now)
	return t, nil
}

// Entries returns the entry channel. It is closed when the tail ends.
func (t *Tail) Entries() <-chan logparse.Entry { return t.entries }

// Done is closed once the tail has ended and the remote process is reaped.
func (t *Tail) Done() <-chan struct{} { return t.done }

// Next blocks for the next entry. It returns io.EOF after a clean end, the
// terminal error after a failure, and ctx.Err() if ctx ends first; in the
// last case the tail keeps running.
func (t *Tail) Next(ctx context.Context) (logparse.Entry, error) {
	select {
	case entry, ok := <-t.entries:
		if !ok {
			if err := t.Err(); err != nil {
				return logparse.Entry{}, err
			}
			return logparse.Entry{}, io.EOF
		}
		return entry, nil
	case <-ctx.Done():
		return logparse.Entry{}, ctx.Err()
	}
}

// Close stops the tail and returns once the remote process is reaped.
func (t *Tail) Close() error {
	t.cancel()
	<-t.done
	return nil
}

// Err returns the error that ended the tail, or nil while it is running or
// after a clean end.
func (t *Tail) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Reason returns why the tail ended, or EndRunning.
func (t *Tail) Reason() EndReason {
	select {
	case <-t.done:
		return t.reason
	default:
		return EndRunning
	}
}

// Offset returns the file offset just past the last line delivered, once
// the tail has ended. ok is false while it runs or when it was started
// without a known position. Lines are counted with a one-byte "\n"
// terminator.
func (t *Tail) Offset() (offset int64, ok bool) {
	select {
	case <-t.done:
	default:
		return 0, false
	}
	if t.base < 0 {
		return 0, false
	}
	return t.base + t.consumed, true
}

// Reaped reports whether the remote process has been reaped.
func (t *Tail) Reaped() bool {
	select {
	case <-t.done:
		return t.reaped
	default:
		return false
	}
}

func (t *Tail) run(ctx context.Context, h remote.Stream, p Policy, now func() time.Time) {
	reason := t.follow(ctx, h, p, now)

	h.Terminate()
	werr := h.Wait()
	t.reaped = true
	t.cancel()

	switch {
	case h.Err() != nil:
		// The read failed first; the exit status is our own SIGTERM.
		reason = EndFailed
		t.err = &StreamError{Err: h.Err()}
	case reason == EndEOF && werr != nil:
		// After Terminate the exit status reflects our own signal, so it only
		// counts when the process ended by itself.
		reason = EndFailed
		t.err = &StreamError{Err: werr}
	}
	if t.err != nil {
		slog.Error("log stream ended with error", "target", t.target, "error", t.err)
	}
	t.reason = reason
	slog.Info("log stream ended", "target", t.target, "reason", string(reason))

	close(t.done)
	close(t.entries)
}

func (t *Tail) follow(ctx context.Context, h remote.Stream, p Policy, now func() time.Time) EndReason {
	idle := 0
	timer := time.NewTimer(p.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return EndCancelled

		case line, ok := <-h.Lines():
			if !ok {
				return EndEOF
			}
			idle = 0
			size := int64(len(line)) + 1
			line = cleanLine(line)
			if line == "" {
				t.consumed += size
				timer.Reset(p.ReadTimeout)
				continue
			}
			select {
			case t.entries <- logparse.ParseAt(line, now()):
				t.consumed += size
			case <-ctx.Done():
				return EndCancelled
			}
			timer.Reset(p.ReadTimeout)

		case <-timer.C:
			idle++
			if idle >= p.MaxIdleReads {
				slog.Warn("no log output, ending stream",
					"target", t.target,
					"idle_reads", idle,
					"read_timeout", p.ReadTimeout,
				)
				return EndIdle
			}
			slog.Debug("timeout waiting for log line", "target", t.target, "idle_reads", idle)
			timer.Reset(p.ReadTimeout)
		}
	}
}
