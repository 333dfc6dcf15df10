package logtail

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/setevik/vllmscope/internal/logparse"
	"github.com/setevik/vllmscope/internal/remote"
	"github.com/setevik/vllmscope/internal/remote/remotetest"
)

func streamExecutor(streams ...*remotetest.Stream) *remotetest.Executor {
	var mu sync.Mutex
	next := 0
	return &remotetest.Executor{
		Stream: func(context.Context, []string) (remote.Stream, error) {
			mu.Lock()
			defer mu.Unlock()
			if next >= len(streams) {
				return nil, errors.New("no more streams")
			}
			s := streams[next]
			next++
			return s, nil
		},
	}
}

var fastPolicy = Policy{
	ReadTimeout:  time.Second,
	MaxIdleReads: 30,
	StartGrace:   10 * time.Millisecond,
}

func nextEntry(t *testing.T, tail *Tail) logparse.Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	entry, err := tail.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return entry
}

func waitDone(t *testing.T, tail *Tail) {
	t.Helper()
	select {
	case <-tail.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not end")
	}
}

func TestStreamDeliversInOrder(t *testing.T) {
	s := remotetest.NewStream()
	exec := streamExecutor(s)
	e := newEngine(exec, fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer tail.Close()

	s.Emit("ERROR first", "", "   ", "INFO second", "WARNING third")
	for _, want := range []string{"first", "second", "third"} {
		if got := nextEntry(t, tail); got.Message != want {
			t.Errorf("Message = %q, want %q", got.Message, want)
		}
	}
	if calls := exec.Calls(); calls[0] != "tail -n 0 -f /tmp/vllm.log" {
		t.Errorf("calls = %q", calls)
	}
}

func TestStreamBacklog(t *testing.T) {
	exec := streamExecutor(remotetest.NewStream())
	p := fastPolicy
	p.Backlog = 50
	e := newEngine(exec, p)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	tail.Close()
	if calls := exec.Calls(); calls[0] != "tail -n 50 -f /tmp/vllm.log" {
		t.Errorf("calls = %q", calls)
	}
}

func TestStreamCloseReaps(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	closed := make(chan struct{})
	go func() {
		tail.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if !s.Terminated() || !s.Reaped() || !tail.Reaped() {
		t.Errorf("terminated=%v reaped=%v tail.Reaped=%v", s.Terminated(), s.Reaped(), tail.Reaped())
	}
	if tail.Reason() != EndCancelled {
		t.Errorf("Reason = %q, want %q", tail.Reason(), EndCancelled)
	}
	if tail.Err() != nil {
		t.Errorf("Err = %v, want nil", tail.Err())
	}
	if _, ok := <-tail.Entries(); ok {
		t.Error("entries channel should be closed")
	}
}

func TestStreamParentCancelReaps(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	ctx, cancel := context.WithCancel(context.Background())
	tail, err := e.Stream(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, tail)

	if !s.Reaped() || !tail.Reaped() {
		t.Error("process not reaped after cancel")
	}
	if _, err := tail.Next(context.Background()); err != io.EOF {
		t.Errorf("Next after cancel = %v, want io.EOF", err)
	}
}

func TestStreamCancelWhileConsumerStalled(t *testing.T) {
	s := remotetest.NewStream()
	p := fastPolicy
	p.Buffer = 1
	e := newEngine(streamExecutor(s), p)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		s.Emit("INFO line")
	}
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		tail.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a full entry buffer")
	}
	if !s.Reaped() {
		t.Error("process not reaped")
	}
}

func TestStreamImmediateFailure(t *testing.T) {
	s := remotetest.NewStream()
	s.Exit(1, "tail: cannot open '/tmp/vllm.log' for reading: No such file or directory")
	e := newEngine(streamExecutor(s), fastPolicy)

	_, err := e.Stream(context.Background())
	var rerr *RemoteReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RemoteReadError", err)
	}
	if rerr.ExitCode != 1 || rerr.Stderr == "" {
		t.Errorf("RemoteReadError = %+v", rerr)
	}
}

func TestStreamStartError(t *testing.T) {
	exec := &remotetest.Executor{
		Stream: func(context.Context, []string) (remote.Stream, error) {
			return nil, errors.New("exec: \"docker\": executable file not found")
		},
	}
	e := newEngine(exec, fastPolicy)

	_, err := e.Stream(context.Background())
	var rerr *RemoteReadError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want *RemoteReadError", err)
	}
}

func TestStreamIdleEnds(t *testing.T) {
	s := remotetest.NewStream()
	p := fastPolicy
	p.ReadTimeout = 5 * time.Millisecond
	p.MaxIdleReads = 3
	e := newEngine(streamExecutor(s), p)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, tail)

	if tail.Reason() != EndIdle {
		t.Errorf("Reason = %q, want %q", tail.Reason(), EndIdle)
	}
	if tail.Err() != nil {
		t.Errorf("idle end should not be an error: %v", tail.Err())
	}
	if !s.Terminated() || !tail.Reaped() {
		t.Error("idle end should terminate and reap the process")
	}
}

func TestStreamCleanEOF(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Emit("INFO last words")
	s.Exit(0, "")

	if got := nextEntry(t, tail); got.Message != "last words" {
		t.Errorf("Message = %q", got.Message)
	}
	if _, err := tail.Next(context.Background()); err != io.EOF {
		t.Errorf("Next = %v, want io.EOF", err)
	}
	if tail.Reason() != EndEOF {
		t.Errorf("Reason = %q, want %q", tail.Reason(), EndEOF)
	}
}

func TestStreamFailureAfterStart(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Emit("INFO hello")
	nextEntry(t, tail)
	s.Exit(2, "docker: container stopped")

	_, err = tail.Next(context.Background())
	var serr *StreamError
	if !errors.As(err, &serr) {
		t.Fatalf("Next = %v, want *StreamError", err)
	}
	if tail.Reason() != EndFailed {
		t.Errorf("Reason = %q, want %q", tail.Reason(), EndFailed)
	}
}

func TestStreamFromOffset(t *testing.T) {
	s := remotetest.NewStream()
	exec := streamExecutor(s)
	e := newEngine(exec, fastPolicy)

	tail, err := e.StreamFrom(context.Background(), 41)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tail.Offset(); ok {
		t.Error("Offset known while running")
	}
	s.Emit("INFO abc", "")
	s.Exit(0, "")
	nextEntry(t, tail)
	waitDone(t, tail)

	if got := exec.Calls(); len(got) != 1 || got[0] != "tail -c +42 -f /tmp/vllm.log" {
		t.Errorf("calls = %q", got)
	}
	// 41 + len("INFO abc\n") + len("\n")
	if off, ok := tail.Offset(); !ok || off != 51 {
		t.Errorf("Offset = %d, %v; want 51, true", off, ok)
	}
}

func TestStreamOffsetUnknownFromEnd(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Exit(0, "")
	waitDone(t, tail)
	if _, ok := tail.Offset(); ok {
		t.Error("Offset known for a tail started at the end")
	}
}

func TestStreamReadFailure(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Emit("INFO fine")
	nextEntry(t, tail)
	s.Fail(bufio.ErrTooLong)

	_, err = tail.Next(context.Background())
	var serr *StreamError
	if !errors.As(err, &serr) {
		t.Fatalf("Next = %v, want *StreamError", err)
	}
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("Next = %v, want bufio.ErrTooLong", err)
	}
	if tail.Reason() != EndFailed {
		t.Errorf("Reason = %q, want %q", tail.Reason(), EndFailed)
	}
}

func TestStreamEndReleasesContext(t *testing.T) {
	s := remotetest.NewStream()
	var got context.Context
	exec := &remotetest.Executor{
		Stream: func(ctx context.Context, _ []string) (remote.Stream, error) {
			got = ctx
			return s, nil
		},
	}
	e := newEngine(exec, fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	s.Exit(0, "")
	waitDone(t, tail)
	if got.Err() == nil {
		t.Error("stream context still live after EOF")
	}
}

func TestNextTimeoutKeepsTailRunning(t *testing.T) {
	s := remotetest.NewStream()
	e := newEngine(streamExecutor(s), fastPolicy)

	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer tail.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := tail.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want deadline exceeded", err)
	}

	s.Emit("INFO still here")
	if got := nextEntry(t, tail); got.Message != "still here" {
		t.Errorf("Message = %q", got.Message)
	}
}

func TestStreamLocalFile(t *testing.T) {
	if _, err := exec.LookPath("tail"); err != nil {
		t.Skip("tail not available")
	}

	path := filepath.Join(t.TempDir(), "vllm.log")
	if err := os.WriteFile(path, []byte("INFO old line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(remote.NewLocal(), path, Policy{StartGrace: 50 * time.Millisecond, ReadTimeout: time.Second})
	tail, err := e.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("ERROR new line\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got := nextEntry(t, tail)
	if got.Message != "new line" || got.Level != logparse.LevelError {
		t.Errorf("entry = %+v", got)
	}

	tail.Close()
	if !tail.Reaped() {
		t.Error("local tail not reaped")
	}
}
