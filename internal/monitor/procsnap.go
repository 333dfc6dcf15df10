package monitor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/setevik/vllmscope/internal/format"
)

// ProcMem is one process's resident memory.
type ProcMem struct {
	PID      int
	Name     string
	RSSBytes int64
}

// TopMemConsumers returns the top n processes on the target by RSS.
func (p *Probe) TopMemConsumers(ctx context.Context, n int) ([]ProcMem, error) {
	out, err := p.run(ctx, "ps", "-eo", "pid=,rss=,comm=")
	if err != nil {
		return nil, err
	}
	return topMemConsumers(out, n), nil
}

// topMemConsumers parses "pid rss comm" rows (RSS in KiB) and keeps the
// n largest.
func topMemConsumers(out string, n int) []ProcMem {
	var procs []ProcMem
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		rss, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		procs = append(procs, ProcMem{
			PID:      pid,
			Name:     strings.Join(fields[2:], " "),
			RSSBytes: rss * format.KB,
		})
	}

	// Sort by RSS descending.
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].RSSBytes > procs[j].RSSBytes
	})

	if n > 0 && len(procs) > n {
		procs = procs[:n]
	}
	return procs
}

// FormatTopConsumers formats a list of ProcMem as human-readable lines.
func FormatTopConsumers(consumers []ProcMem) string {
	var b strings.Builder
	for i, p := range consumers {
		fmt.Fprintf(&b, "  %d. %-20s %s (pid %d)\n", i+1, p.Name, format.Bytes(p.RSSBytes), p.PID)
	}
	return b.String()
}
