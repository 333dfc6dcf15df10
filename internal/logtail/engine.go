// Package logtail reads the monitored process's log file on the remote
// target: bounded batches of recent lines and a live, cancellable tail.
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/logparse"
	"github.com/setevik/vllmscope/internal/remote"
)

// Policy bounds how long reads may block and when a live tail gives up.
type Policy struct {
	// RecentTimeout bounds a single recent-lines read.
	RecentTimeout time.Duration
	// ReadTimeout is how long the live tail waits for the next line before
	// counting an idle read.
	ReadTimeout time.Duration
	// MaxIdleReads consecutive idle reads end the live tail cleanly.
	MaxIdleReads int
	// StartGrace is how long a freshly started follow command is watched for
	// an immediate failure.
	StartGrace time.Duration
	// Backlog is how many existing lines the follow command replays first.
	Backlog int
	// Buffer is the capacity of the live tail's entry channel.
	Buffer int
}

// DefaultPolicy returns the standard timeouts.
func DefaultPolicy() Policy {
	return Policy{
		RecentTimeout: 10 * time.Second,
		ReadTimeout:   5 * time.Second,
		MaxIdleReads:  30,
		StartGrace:    250 * time.Millisecond,
		Backlog:       0,
		Buffer:        64,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.RecentTimeout <= 0 {
		p.RecentTimeout = d.RecentTimeout
	}
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = d.ReadTimeout
	}
	if p.MaxIdleReads <= 0 {
		p.MaxIdleReads = d.MaxIdleReads
	}
	if p.StartGrace <= 0 {
		p.StartGrace = d.StartGrace
	}
	if p.Backlog < 0 {
		p.Backlog = 0
	}
	if p.Buffer <= 0 {
		p.Buffer = d.Buffer
	}
	return p
}

// Engine reads one log file on one target.
type Engine struct {
	exec   remote.Executor
	path   string
	policy Policy
	now    func() time.Time
}

// New creates an Engine for the log file at path on exec's target. Zero
// policy fields take their defaults.
func New(exec remote.Executor, path string, policy Policy) *Engine {
	return &Engine{
		exec:   exec,
		path:   path,
		policy: policy.withDefaults(),
		now:    time.Now,
	}
}

// WithClock overrides the time source used for fallback timestamps.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Path returns the remote log file path.
func (e *Engine) Path() string { return e.path }

// Target returns the name of the remote target.
func (e *Engine) Target() string { return e.exec.Target() }

// Recent returns the last n lines of the log file, parsed, in file order.
// The read is bounded by the policy's RecentTimeout; on timeout the command
// is terminated and the complete lines collected so far are returned without
// an error.
func (e *Engine) Recent(ctx context.Context, n int) ([]logparse.Entry, error) {
	if n <= 0 {
		return []logparse.Entry{}, nil
	}
	argv := []string{"tail", "-n", strconv.Itoa(n), e.path}

	rctx, cancel := context.WithTimeout(ctx, e.policy.RecentTimeout)
	defer cancel()

	res, err := e.exec.RunBuffered(rctx, argv)
	out := res.Stdout
	switch {
	case err == nil:
		if res.ExitCode != 0 {
			slog.Warn("tail command failed",
				"target", e.exec.Target(),
				"exit_code", res.ExitCode,
				"stderr", strings.TrimSpace(string(res.Stderr)),
			)
		}
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		slog.Warn("timeout reading recent logs",
			"target", e.exec.Target(),
			"timeout", e.policy.RecentTimeout,
			"partial_bytes", len(out),
		)
		out = completeLines(out)
	default:
		return nil, e.readError(argv, res, err)
	}

	if len(out) == 0 {
		slog.Debug("no log output received", "target", e.exec.Target(), "path", e.path)
		return []logparse.Entry{}, nil
	}

	entries := parseLines(out, e.now())
	slog.Debug("parsed recent log lines", "count", len(entries))
	return entries, nil
}

// FileContent returns the whole log file verbatim.
func (e *Engine) FileContent(ctx context.Context) ([]byte, error) {
	argv := []string{"cat", e.path}

	res, err := e.exec.RunBuffered(ctx, argv)
	if err != nil {
		return nil, e.readError(argv, res, err)
	}
	if res.ExitCode != 0 {
		rerr := e.readError(argv, res, nil)
		slog.Error("failed to read log file", "error", rerr)
		return nil, rerr
	}

	if len(res.Stdout) == 0 {
		slog.Warn("log file is empty", "target", e.exec.Target(), "path", e.path)
	} else {
		slog.Debug("log file content",
			"bytes", len(res.Stdout),
			"lines", bytes.Count(res.Stdout, []byte{'\n'}),
		)
	}
	return res.Stdout, nil
}

// Size returns the current length of the log file in bytes.
func (e *Engine) Size(ctx context.Context) (int64, error) {
	argv := []string{"wc", "-c", e.path}

	rctx, cancel := context.WithTimeout(ctx, e.policy.RecentTimeout)
	defer cancel()

	res, err := e.exec.RunBuffered(rctx, argv)
	if err != nil || res.ExitCode != 0 {
		return 0, e.readError(argv, res, err)
	}
	// "1234 /tmp/vllm.log"
	fields := strings.Fields(string(res.Stdout))
	if len(fields) == 0 {
		return 0, e.readError(argv, res, errors.New("empty wc output"))
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, e.readError(argv, res, fmt.Errorf("parsing wc output: %w", err))
	}
	return n, nil
}

// Filtered over-fetches 2n recent lines, keeps those at level (the zero
// Level keeps everything) and returns the last n. Fewer than n entries come
// back when the log has fewer matching lines in that window.
func (e *Engine) Filtered(ctx context.Context, level logparse.Level, n int) ([]logparse.Entry, error) {
	if n <= 0 {
		return []logparse.Entry{}, nil
	}

	entries, err := e.Recent(ctx, 2*n)
	if err != nil {
		return nil, err
	}

	if level != "" {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Level == level {
				kept = append(kept, entry)
			}
		}
		entries = kept
	}

	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (e *Engine) readError(argv []string, res remote.Result, err error) *RemoteReadError {
	return &RemoteReadError{
		Target:   e.exec.Target(),
		Command:  strings.Join(argv, " "),
		ExitCode: res.ExitCode,
		Stderr:   string(res.Stderr),
		Err:      err,
	}
}

// parseLines parses every non-blank line of out with a shared fallback time.
func parseLines(out []byte, now time.Time) []logparse.Entry {
	raw := strings.Split(string(out), "\n")
	entries := make([]logparse.Entry, 0, len(raw))
	for _, line := range raw {
		line = cleanLine(line)
		if line == "" {
			continue
		}
		entries = append(entries, logparse.ParseAt(line, now))
	}
	return entries
}

// completeLines drops a trailing partial line cut off by a timeout.
func completeLines(out []byte) []byte {
	i := bytes.LastIndexByte(out, '\n')
	if i < 0 {
		return nil
	}
	return out[:i+1]
}

func cleanLine(line string) string {
	return strings.TrimSpace(strings.ToValidUTF8(line, "�"))
}
