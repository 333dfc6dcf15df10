package enricher

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/setevik/vllmscope/internal/event"
)

// PyTorch's allocator message, e.g.
// "Tried to allocate 2.00 GiB. GPU 0 has a total capacity of 79.15 GiB of
// which 1.12 GiB is free. ... Of the allocated memory 75.01 GiB is allocated
// by PyTorch, and 1.47 GiB is reserved by PyTorch but unallocated."
var (
	oomTotalRe     = regexp.MustCompile(`total capacity of ([\d.]+ [KMGT]iB)`)
	oomFreeRe      = regexp.MustCompile(`of which ([\d.]+ [KMGT]iB) is free`)
	oomAllocatedRe = regexp.MustCompile(`([\d.]+ [KMGT]iB) is allocated by PyTorch`)
	oomReservedRe  = regexp.MustCompile(`([\d.]+ [KMGT]iB) is reserved by PyTorch but unallocated`)
)

type oomReport struct {
	requested string
	total     string
	free      string
	allocated string
	reserved  string
}

// parseOOMMessage extracts the allocator figures from a CUDA OOM line.
// Figures the message does not carry stay empty.
func parseOOMMessage(line string, fields map[string]string) oomReport {
	r := oomReport{requested: fields["alloc"]}
	if m := oomTotalRe.FindStringSubmatch(line); m != nil {
		r.total = m[1]
	}
	if m := oomFreeRe.FindStringSubmatch(line); m != nil {
		r.free = m[1]
	}
	if m := oomAllocatedRe.FindStringSubmatch(line); m != nil {
		r.allocated = m[1]
	}
	if m := oomReservedRe.FindStringSubmatch(line); m != nil {
		r.reserved = m[1]
	}
	return r
}

func (r oomReport) String() string {
	var b strings.Builder
	if r.requested != "" {
		fmt.Fprintf(&b, "Requested: %s\n", r.requested)
	}
	if r.total != "" {
		fmt.Fprintf(&b, "Capacity: %s\n", r.total)
	}
	if r.free != "" {
		fmt.Fprintf(&b, "Free: %s\n", r.free)
	}
	if r.allocated != "" {
		fmt.Fprintf(&b, "Allocated by PyTorch: %s\n", r.allocated)
	}
	if r.reserved != "" {
		fmt.Fprintf(&b, "Reserved but unallocated: %s\n", r.reserved)
		b.WriteString("Fragmentation likely; try PYTORCH_CUDA_ALLOC_CONF=expandable_segments:True\n")
	}
	return b.String()
}

// enrichOOM explains a CUDA out-of-memory error and appends current GPU state.
func (e *Enricher) enrichOOM(ctx context.Context, ev *event.Event) {
	appendDetail(ev, parseOOMMessage(ev.RawLine, ev.Fields).String())
	e.enrichGPU(ctx, ev)
}
