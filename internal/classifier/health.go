package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/derive"
	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/format"
	"github.com/setevik/vllmscope/internal/metrics"
)

// HealthTracker follows the metrics stream and emits events on transitions
// only: metrics lost or restored, health degraded or recovered. It owns the
// previous reading that Derive compares against.
type HealthTracker struct {
	instanceID string
	target     string

	seen      bool
	available bool
	health    derive.Health
	previous  *metrics.VLLMMetrics
	last      *derive.Summary
}

// NewHealthTracker creates a tracker with no history.
func (c *Classifier) NewHealthTracker() *HealthTracker {
	return &HealthTracker{instanceID: c.instanceID, target: c.target}
}

// Observe folds one poll result into the tracked state and returns the
// events its transitions produce, usually none.
func (h *HealthTracker) Observe(s metrics.Sample) []*event.Event {
	if s.Snapshot == nil {
		return h.observeUnavailable(s.At)
	}

	var events []*event.Event
	if h.seen && !h.available {
		ev := event.New(h.instanceID, h.target, s.At, event.KindMetricsRestored, event.SevInfo,
			"Metrics endpoint is responding again")
		events = append(events, ev)
	}
	h.seen = true
	h.available = true

	current := s.Snapshot.Metrics
	summary := derive.Summarize(current, h.previous)
	h.previous = &current
	h.last = &summary

	d := summary.Derived
	switch {
	case d.HealthStatus == derive.Degraded && h.health != derive.Degraded:
		ev := event.New(h.instanceID, h.target, s.At, event.KindHealthDegraded, event.SevWarning,
			degradedSummary(d))
		ev.Detail = describe(current, summary)
		ev.Fields["health_status"] = string(d.HealthStatus)
		events = append(events, ev)
	case d.HealthStatus == derive.Healthy && h.health == derive.Degraded:
		ev := event.New(h.instanceID, h.target, s.At, event.KindHealthRecovered, event.SevInfo,
			"Server health recovered")
		ev.Detail = describe(current, summary)
		ev.Fields["health_status"] = string(d.HealthStatus)
		events = append(events, ev)
	}
	h.health = d.HealthStatus

	return events
}

func (h *HealthTracker) observeUnavailable(at time.Time) []*event.Event {
	wasAvailable := !h.seen || h.available
	h.seen = true
	h.available = false
	// Deltas across a gap would be meaningless.
	h.previous = nil
	h.last = nil

	if !wasAvailable {
		return nil
	}
	ev := event.New(h.instanceID, h.target, at, event.KindMetricsLost, event.SevHigh,
		"Metrics endpoint unavailable")
	ev.Detail = "The vLLM /metrics endpoint could not be read; the server may be down or still loading."
	return []*event.Event{ev}
}

// Last returns the most recent summary, if the last poll succeeded.
func (h *HealthTracker) Last() (derive.Summary, bool) {
	if h.last == nil {
		return derive.Summary{}, false
	}
	return *h.last, true
}

// Health returns the last observed health, or "" before the first reading.
func (h *HealthTracker) Health() derive.Health { return h.health }

func degradedSummary(d derive.Indicators) string {
	if w := d.Warnings(); len(w) > 0 {
		return "Server degraded: " + w[0]
	}
	return "Server degraded"
}

func describe(m metrics.VLLMMetrics, s derive.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GPU memory:  %s", format.Percent(m.GPUMemoryUtilization))
	if m.GPUMemoryUsedBytes > 0 {
		fmt.Fprintf(&b, " (%s used)", format.Bytes(m.GPUMemoryUsedBytes))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Queue:       %d waiting\n", m.QueueSize)
	fmt.Fprintf(&b, "Active:      %d requests\n", m.NumActiveRequests)
	if m.RAMUsedBytes > 0 {
		fmt.Fprintf(&b, "RAM:         %s\n", format.Bytes(m.RAMUsedBytes))
	}
	for _, w := range s.Derived.Warnings() {
		fmt.Fprintf(&b, "Warning:     %s\n", w)
	}
	for _, r := range s.Recommendations {
		fmt.Fprintf(&b, "Suggestion:  %s\n", r)
	}
	return b.String()
}
