package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/logparse"
)

const maxTracebackLines = 20

// enrichCrash attaches the last Python traceback before an engine death and
// the host memory state, since a worker killed with -9 is usually the host
// OOM killer.
func (e *Enricher) enrichCrash(ctx context.Context, ev *event.Event) {
	if e.logs != nil {
		entries, err := e.logs.Recent(ctx, e.contextLines*5)
		if err != nil {
			slog.Debug("crash enrichment: failed to read log", "error", err)
		} else if tb := extractTraceback(entries); len(tb) > 0 {
			var detail strings.Builder
			detail.WriteString("Last traceback:\n")
			for _, line := range tb {
				fmt.Fprintf(&detail, "  %s\n", line)
			}
			appendDetail(ev, detail.String())
		}
	}

	if ev.Fields["exit_code"] == "-9" || ev.Fields["exit_code"] == "137" {
		e.enrichHostMemory(ctx, ev)
	}
}

// extractTraceback returns the lines of the last "Traceback" block, capped
// at maxTracebackLines from its end.
func extractTraceback(entries []logparse.Entry) []string {
	start := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if strings.Contains(entries[i].RawLine, "Traceback (most recent call last)") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	var lines []string
	for _, entry := range entries[start:] {
		lines = append(lines, entry.RawLine)
	}
	if len(lines) > maxTracebackLines {
		lines = lines[len(lines)-maxTracebackLines:]
	}
	return lines
}
