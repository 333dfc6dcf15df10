package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/setevik/vllmscope/internal/event"
)

// enrichLogContext attaches the most recent log lines.
func (e *Enricher) enrichLogContext(ctx context.Context, ev *event.Event) {
	if e.logs == nil {
		return
	}

	entries, err := e.logs.Recent(ctx, e.contextLines)
	if err != nil {
		slog.Debug("log enrichment: failed to read log", "target", ev.Target, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	var detail strings.Builder
	detail.WriteString("Last log lines:\n")
	for _, entry := range entries {
		fmt.Fprintf(&detail, "  %s\n", entry.RawLine)
	}
	appendDetail(ev, detail.String())
}
