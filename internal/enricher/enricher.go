// Package enricher adds context to classified events by querying the target:
// surrounding log lines, GPU state and host memory pressure.
package enricher

import (
	"context"
	"log/slog"

	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/logparse"
	"github.com/setevik/vllmscope/internal/monitor"
)

const defaultContextLines = 10

// LogReader returns the most recent log entries. *logtail.Engine implements it.
type LogReader interface {
	Recent(ctx context.Context, n int) ([]logparse.Entry, error)
}

// HostProbe queries host state. *monitor.Probe implements it.
type HostProbe interface {
	QueryGPUs(ctx context.Context) ([]monitor.GPUStatus, error)
	ReadPSI(ctx context.Context) (monitor.PSIStats, error)
	TopMemConsumers(ctx context.Context, n int) ([]monitor.ProcMem, error)
}

// Enricher adds context to classified events. Either dependency may be nil,
// which disables the enrichment that needs it.
type Enricher struct {
	logs         LogReader
	probe        HostProbe
	contextLines int
}

// New creates a new Enricher.
func New(logs LogReader, probe HostProbe) *Enricher {
	return &Enricher{logs: logs, probe: probe, contextLines: defaultContextLines}
}

// WithContextLines sets how many recent log lines are attached.
func (e *Enricher) WithContextLines(n int) *Enricher {
	if n > 0 {
		e.contextLines = n
	}
	return e
}

// Enrich adds detailed context to an event based on its kind. Query failures
// are logged and leave the event as it was.
func (e *Enricher) Enrich(ctx context.Context, ev *event.Event) {
	switch ev.Kind {
	case event.KindCUDAOOM:
		e.enrichOOM(ctx, ev)
	case event.KindEngineDead:
		e.enrichCrash(ctx, ev)
	case event.KindNCCL, event.KindLogError:
		e.enrichLogContext(ctx, ev)
	case event.KindHealthDegraded:
		e.enrichGPU(ctx, ev)
	case event.KindMetricsLost:
		e.enrichLogContext(ctx, ev)
		e.enrichHostMemory(ctx, ev)
	default:
		slog.Debug("no enrichment available for kind", "kind", ev.Kind)
	}
}

func appendDetail(ev *event.Event, s string) {
	if s == "" {
		return
	}
	if ev.Detail != "" {
		ev.Detail += "\n"
	}
	ev.Detail += s
}
