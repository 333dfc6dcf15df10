package enricher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/monitor"
)

const topConsumers = 5

// enrichGPU appends the status of every GPU on the target.
func (e *Enricher) enrichGPU(ctx context.Context, ev *event.Event) {
	if e.probe == nil {
		return
	}
	gpus, err := e.probe.QueryGPUs(ctx)
	if err != nil {
		slog.Debug("gpu enrichment: query failed", "target", ev.Target, "error", err)
		return
	}

	var detail strings.Builder
	for _, gpu := range gpus {
		detail.WriteString(monitor.FormatGPUStatus(gpu))
	}
	appendDetail(ev, detail.String())
}

// enrichHostMemory appends memory pressure and the largest processes.
func (e *Enricher) enrichHostMemory(ctx context.Context, ev *event.Event) {
	if e.probe == nil {
		return
	}

	var detail strings.Builder
	if psi, err := e.probe.ReadPSI(ctx); err == nil {
		fmt.Fprintf(&detail, "Memory pressure: some avg10=%.2f full avg10=%.2f\n", psi.Some.Avg10, psi.Full.Avg10)
	} else {
		slog.Debug("host enrichment: psi unavailable", "target", ev.Target, "error", err)
	}

	if procs, err := e.probe.TopMemConsumers(ctx, topConsumers); err == nil && len(procs) > 0 {
		detail.WriteString("Top memory consumers:\n")
		detail.WriteString(monitor.FormatTopConsumers(procs))
	} else if err != nil {
		slog.Debug("host enrichment: process list failed", "target", ev.Target, "error", err)
	}
	appendDetail(ev, detail.String())
}
