package enricher

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/format"
	"github.com/setevik/vllmscope/internal/logparse"
	"github.com/setevik/vllmscope/internal/monitor"
)

type fakeLogs struct {
	entries []logparse.Entry
	err     error
	asked   int
}

func (f *fakeLogs) Recent(_ context.Context, n int) ([]logparse.Entry, error) {
	f.asked = n
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) > n {
		return f.entries[len(f.entries)-n:], nil
	}
	return f.entries, nil
}

type fakeProbe struct {
	gpus  []monitor.GPUStatus
	psi   monitor.PSIStats
	procs []monitor.ProcMem
	err   error
}

func (f *fakeProbe) QueryGPUs(context.Context) ([]monitor.GPUStatus, error) { return f.gpus, f.err }
func (f *fakeProbe) ReadPSI(context.Context) (monitor.PSIStats, error)      { return f.psi, f.err }
func (f *fakeProbe) TopMemConsumers(context.Context, int) ([]monitor.ProcMem, error) {
	return f.procs, f.err
}

func raw(lines ...string) []logparse.Entry {
	out := make([]logparse.Entry, len(lines))
	for i, l := range lines {
		out[i] = logparse.Entry{RawLine: l, Message: l}
	}
	return out
}

func newEvent(kind event.Kind) *event.Event {
	return event.New("inst", "vllm_node", time.Now(), kind, event.SevHigh, "summary")
}

var l4 = monitor.GPUStatus{Index: 0, Name: "NVIDIA L4", Utilization: 99, VRAMUsed: 22 * format.GB, VRAMTotal: 24 * format.GB}

const oomLine = "torch.OutOfMemoryError: CUDA out of memory. Tried to allocate 2.00 GiB. " +
	"GPU 0 has a total capacity of 79.15 GiB of which 1.12 GiB is free. " +
	"Of the allocated memory 75.01 GiB is allocated by PyTorch, and 1.47 GiB is reserved by PyTorch but unallocated."

func TestParseOOMMessage(t *testing.T) {
	r := parseOOMMessage(oomLine, map[string]string{"alloc": "2.00 GiB"})
	if r.requested != "2.00 GiB" || r.total != "79.15 GiB" || r.free != "1.12 GiB" {
		t.Errorf("report = %+v", r)
	}
	if r.allocated != "75.01 GiB" || r.reserved != "1.47 GiB" {
		t.Errorf("report = %+v", r)
	}
	if !strings.Contains(r.String(), "expandable_segments") {
		t.Errorf("reserved memory should suggest the allocator setting:\n%s", r)
	}
}

func TestParseOOMMessagePartial(t *testing.T) {
	r := parseOOMMessage("CUDA error: out of memory", nil)
	if r.String() != "" {
		t.Errorf("expected empty report, got %q", r.String())
	}
}

func TestEnrichOOM(t *testing.T) {
	ev := newEvent(event.KindCUDAOOM)
	ev.RawLine = oomLine
	ev.Fields = map[string]string{"alloc": "2.00 GiB"}

	New(nil, &fakeProbe{gpus: []monitor.GPUStatus{l4}}).Enrich(context.Background(), ev)

	for _, want := range []string{"Requested: 2.00 GiB", "Free: 1.12 GiB", "GPU 0: NVIDIA L4", "22.0 GiB / 24.0 GiB"} {
		if !strings.Contains(ev.Detail, want) {
			t.Errorf("detail missing %q:\n%s", want, ev.Detail)
		}
	}
}

func TestExtractTraceback(t *testing.T) {
	entries := raw(
		"INFO serving",
		"Traceback (most recent call last):",
		`  File "old.py", line 1`,
		"ValueError: old",
		"INFO more",
		"Traceback (most recent call last):",
		`  File "engine.py", line 42, in run`,
		"RuntimeError: boom",
	)
	tb := extractTraceback(entries)
	if len(tb) != 3 || tb[2] != "RuntimeError: boom" {
		t.Errorf("traceback = %q", tb)
	}

	if tb := extractTraceback(raw("INFO fine")); tb != nil {
		t.Errorf("expected no traceback, got %q", tb)
	}
}

func TestEnrichCrashWithHostKill(t *testing.T) {
	logs := &fakeLogs{entries: raw("Traceback (most recent call last):", "EngineDeadError: died")}
	probe := &fakeProbe{
		psi:   monitor.PSIStats{Some: monitor.Pressure{Avg10: 42.5}},
		procs: []monitor.ProcMem{{PID: 7, Name: "python3", RSSBytes: 60 * format.GB}},
	}
	ev := newEvent(event.KindEngineDead)
	ev.Fields = map[string]string{"pid": "7", "exit_code": "-9"}

	New(logs, probe).Enrich(context.Background(), ev)

	for _, want := range []string{"Last traceback:", "EngineDeadError: died", "some avg10=42.50", "python3"} {
		if !strings.Contains(ev.Detail, want) {
			t.Errorf("detail missing %q:\n%s", want, ev.Detail)
		}
	}
	if logs.asked != defaultContextLines*5 {
		t.Errorf("asked for %d lines", logs.asked)
	}
}

func TestEnrichCrashWithoutKillSkipsHost(t *testing.T) {
	probe := &fakeProbe{procs: []monitor.ProcMem{{PID: 7, Name: "python3"}}}
	ev := newEvent(event.KindEngineDead)

	New(&fakeLogs{}, probe).Enrich(context.Background(), ev)
	if strings.Contains(ev.Detail, "python3") {
		t.Errorf("host memory attached without a kill signal:\n%s", ev.Detail)
	}
}

func TestEnrichLogContext(t *testing.T) {
	logs := &fakeLogs{entries: raw("a", "b", "c")}
	ev := newEvent(event.KindLogError)

	New(logs, nil).WithContextLines(2).Enrich(context.Background(), ev)

	if ev.Detail != "Last log lines:\n  b\n  c\n" {
		t.Errorf("detail = %q", ev.Detail)
	}
}

func TestEnrichFailuresLeaveEventUnchanged(t *testing.T) {
	boom := errors.New("docker: not running")
	ev := newEvent(event.KindMetricsLost)

	New(&fakeLogs{err: boom}, &fakeProbe{err: boom}).Enrich(context.Background(), ev)
	if ev.Detail != "" {
		t.Errorf("detail = %q, want empty", ev.Detail)
	}
}

func TestEnrichNoDependencies(t *testing.T) {
	ev := newEvent(event.KindHealthDegraded)
	ev.Detail = "existing"
	New(nil, nil).Enrich(context.Background(), ev)
	if ev.Detail != "existing" {
		t.Errorf("detail = %q", ev.Detail)
	}
}
