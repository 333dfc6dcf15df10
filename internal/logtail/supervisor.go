package logtail

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/setevik/vllmscope/internal/logparse"
)

// Streamer starts a live tail. *Engine implements it.
type Streamer interface {
	Stream(ctx context.Context) (*Tail, error)
}

// Resumer is a Streamer that can follow from a byte offset, so a restart
// picks up lines written while no tail was running. *Engine implements it.
type Resumer interface {
	Streamer
	Size(ctx context.Context) (int64, error)
	StreamFrom(ctx context.Context, offset int64) (*Tail, error)
}

// Supervised restarts a live tail whenever it ends, whether from idleness,
// a clean EOF or a failure. With a Resumer, each restart continues where
// the previous tail stopped.
type Supervised struct {
	streamer    Streamer
	restartWait time.Duration
	maxRestarts int
}

// NewSupervised creates a restarting wrapper around streamer. It waits
// restartWait between attempts. maxRestarts bounds consecutive failures
// (start errors and failed streams); 0 means no bound. Idle and clean ends
// never count, and a tail that delivered entries resets the count.
func NewSupervised(streamer Streamer, restartWait time.Duration, maxRestarts int) *Supervised {
	return &Supervised{
		streamer:    streamer,
		restartWait: restartWait,
		maxRestarts: maxRestarts,
	}
}

// Entries starts the supervised loop and returns a channel that receives
// entries across restarts. The channel is closed when ctx is cancelled or
// max restarts are exceeded; the current tail is closed and reaped first.
func (s *Supervised) Entries(ctx context.Context) <-chan logparse.Entry {
	out := make(chan logparse.Entry, 64)

	go func() {
		defer close(out)

		failures := 0
		offset := int64(-1)
		for {
			if s.maxRestarts > 0 && failures > s.maxRestarts {
				slog.Error("log stream exceeded max restarts", "max", s.maxRestarts)
				return
			}

			tail, err := s.start(ctx, offset)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				slog.Error("failed to start log stream", "error", err, "failures", failures)
				if !s.wait(ctx) {
					return
				}
				continue
			}

			delivered, ok := forward(ctx, tail, out)
			if !ok {
				return
			}
			_ = tail.Close()
			offset = s.position(ctx, tail)

			if delivered > 0 {
				failures = 0
			}
			if tail.Reason() == EndFailed {
				failures++
			}
			slog.Warn("log stream stopped, restarting",
				"reason", string(tail.Reason()),
				"error", tail.Err(),
				"offset", offset,
				"failures", failures,
			)

			if !s.wait(ctx) {
				return
			}
		}
	}()

	return out
}

// start follows from offset when it is known and the streamer can resume.
func (s *Supervised) start(ctx context.Context, offset int64) (*Tail, error) {
	r, ok := s.streamer.(Resumer)
	if !ok || offset < 0 {
		return s.streamer.Stream(ctx)
	}
	if size, err := r.Size(ctx); err == nil && size < offset {
		slog.Info("log file shrank, following from the start", "offset", offset, "size", size)
		offset = 0
	}
	return r.StreamFrom(ctx, offset)
}

// position returns where the next tail should start: the ended tail's own
// offset, else the file size measured now, else -1.
//
// A line over the stream's size limit would fail again from the same
// offset, so after that error the next tail starts at the current size.
func (s *Supervised) position(ctx context.Context, tail *Tail) int64 {
	tooLong := errors.Is(tail.Err(), bufio.ErrTooLong)
	if off, ok := tail.Offset(); ok && !tooLong {
		return off
	}
	if tooLong {
		slog.Warn("skipping oversized log line", "error", tail.Err())
	}
	r, ok := s.streamer.(Resumer)
	if !ok {
		return -1
	}
	size, err := r.Size(ctx)
	if err != nil {
		slog.Debug("log size unavailable, next stream starts at the end", "error", err)
		return -1
	}
	return size
}

// forward copies entries until the tail ends and returns how many it
// delivered. ok is false if ctx ended; the tail is closed in that case.
func forward(ctx context.Context, tail *Tail, out chan<- logparse.Entry) (delivered int, ok bool) {
	for {
		select {
		case entry, open := <-tail.Entries():
			if !open {
				return delivered, true
			}
			select {
			case out <- entry:
				delivered++
			case <-ctx.Done():
				_ = tail.Close()
				return delivered, false
			}
		case <-ctx.Done():
			_ = tail.Close()
			return delivered, false
		}
	}
}

func (s *Supervised) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.restartWait):
		return true
	}
}
