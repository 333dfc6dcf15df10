package reporter

import (
	"strings"
	"testing"
	"time"

	"github.com/setevik/vllmscope/internal/event"
)

var (
	digestSince = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	digestUntil = time.Date(2024, 2, 17, 0, 0, 0, 0, time.UTC)
)

func TestBuildDigestEmpty(t *testing.T) {
	d := BuildDigest("testhost", nil, digestSince, digestUntil)
	if d.InstanceID != "testhost" {
		t.Errorf("InstanceID = %q, want testhost", d.InstanceID)
	}
	if d.Total() != 0 {
		t.Errorf("Total = %d, want 0", d.Total())
	}
}

func TestBuildDigestCounts(t *testing.T) {
	events := []*event.Event{
		{Kind: event.KindCUDAOOM, Target: "node_a"},
		{Kind: event.KindCUDAOOM, Target: "node_b"},
		{Kind: event.KindCUDAOOM, Target: "node_a"},
		{Kind: event.KindEngineDead, Target: "node_a"},
		{Kind: event.KindHealthDegraded},
		{Kind: event.KindHealthDegraded},
	}

	d := BuildDigest("testhost", events, digestSince, digestUntil)

	if d.Counts[event.KindCUDAOOM] != 3 {
		t.Errorf("cuda_oom = %d, want 3", d.Counts[event.KindCUDAOOM])
	}
	if d.Counts[event.KindEngineDead] != 1 {
		t.Errorf("engine_dead = %d, want 1", d.Counts[event.KindEngineDead])
	}
	if d.Targets[event.KindCUDAOOM]["node_a"] != 2 {
		t.Errorf("node_a OOMs = %d, want 2", d.Targets[event.KindCUDAOOM]["node_a"])
	}
	if d.Targets[event.KindHealthDegraded]["unknown"] != 2 {
		t.Errorf("missing target should count as unknown: %v", d.Targets[event.KindHealthDegraded])
	}
	if d.Total() != 6 {
		t.Errorf("Total = %d, want 6", d.Total())
	}
}

func TestFormatDigest(t *testing.T) {
	events := []*event.Event{
		{Kind: event.KindCUDAOOM, Target: "node_a"},
		{Kind: event.KindCUDAOOM, Target: "node_a"},
		{Kind: event.KindCUDAOOM, Target: "node_b"},
		{Kind: event.KindNCCL, Target: "node_a"},
	}
	out := FormatDigest(BuildDigest("testhost", events, digestSince, digestUntil))

	for _, want := range []string{
		"=== testhost ===",
		"CUDA OOM:",
		"node_a ×2, node_b ×1",
		"NCCL Failure:",
		"Metrics Lost:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("digest missing %q:\n%s", want, out)
		}
	}
	// A single target needs no breakdown.
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "NCCL Failure:") && strings.Contains(line, "(") {
			t.Errorf("single-target line has breakdown: %q", line)
		}
	}
}

func TestFormatDigestTitle(t *testing.T) {
	title := FormatDigestTitle(digestSince, digestUntil)
	if !strings.Contains(title, "vllmscope digest") {
		t.Errorf("title = %q", title)
	}
}

func TestFormatBreakdownOrder(t *testing.T) {
	got := formatBreakdown(map[string]int{"b": 1, "a": 1, "c": 3})
	if got != "c ×3, a ×1, b ×1" {
		t.Errorf("breakdown = %q", got)
	}
}
