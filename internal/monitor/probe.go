// Package monitor samples host-level state on the target (GPUs, memory
// pressure, process sizes) through the remote executor.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/setevik/vllmscope/internal/remote"
)

const defaultQueryTimeout = 10 * time.Second

// Probe runs short diagnostic commands on a target.
type Probe struct {
	exec    remote.Executor
	timeout time.Duration
}

// NewProbe creates a probe for exec's target.
func NewProbe(exec remote.Executor) *Probe {
	return &Probe{exec: exec, timeout: defaultQueryTimeout}
}

// run executes argv with the probe timeout and returns stdout. A non-zero
// exit is an error.
func (p *Probe) run(ctx context.Context, argv ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.exec.RunBuffered(ctx, argv)
	if err != nil {
		return "", fmt.Errorf("%s on %s: %w", argv[0], p.exec.Target(), err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s on %s: %w", argv[0], p.exec.Target(),
			&remote.ExitError{Code: res.ExitCode, Stderr: string(res.Stderr)})
	}
	return string(res.Stdout), nil
}
