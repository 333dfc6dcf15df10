package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const defaultKillGrace = 2 * time.Second

// Exec runs commands as host subprocesses, optionally behind a prefix such
// as `docker exec <container>`.
type Exec struct {
	target    string
	prefix    []string
	killGrace time.Duration
}

// NewLocal creates an executor that runs commands directly on this host.
func NewLocal() *Exec {
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return &Exec{target: host, killGrace: defaultKillGrace}
}

// NewDocker creates an executor that runs commands inside container via
// `docker exec`.
func NewDocker(container string) *Exec {
	return &Exec{
		target:    container,
		prefix:    []string{"docker", "exec", container},
		killGrace: defaultKillGrace,
	}
}

// WithKillGrace sets how long a terminated process may take to exit before
// it is killed.
func (e *Exec) WithKillGrace(d time.Duration) *Exec {
	if d > 0 {
		e.killGrace = d
	}
	return e
}

func (e *Exec) Target() string { return e.target }

func (e *Exec) RunBuffered(ctx context.Context, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}
	cmd := e.command(ctx, argv)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("running %s: %w", argv[0], err)
}

func (e *Exec) RunStreaming(ctx context.Context, argv []string) (Stream, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := e.command(ctx, argv)
	s := newCmdStream(cmd, e.killGrace)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	go s.run(stdout)
	return s, nil
}

func (e *Exec) command(ctx context.Context, argv []string) *exec.Cmd {
	full := make([]string, 0, len(e.prefix)+len(argv))
	full = append(full, e.prefix...)
	full = append(full, argv...)

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)
	// Own process group so termination reaches children of sh -c as well.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process, unix.SIGTERM)
	}
	cmd.WaitDelay = e.killGrace
	return cmd
}

// signalGroup delivers sig to the process group led by p.
func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
