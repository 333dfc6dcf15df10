package reporter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/setevik/vllmscope/internal/event"
)

// DigestSummary holds aggregated event counts for a digest period.
type DigestSummary struct {
	InstanceID string
	Since      time.Time
	Until      time.Time

	Counts map[event.Kind]int
	// Targets counts events per target for each kind.
	Targets map[event.Kind]map[string]int
}

// BuildDigest aggregates a list of events into a DigestSummary.
func BuildDigest(instanceID string, events []*event.Event, since, until time.Time) *DigestSummary {
	d := &DigestSummary{
		InstanceID: instanceID,
		Since:      since,
		Until:      until,
		Counts:     make(map[event.Kind]int),
		Targets:    make(map[event.Kind]map[string]int),
	}

	for _, ev := range events {
		d.Counts[ev.Kind]++
		target := ev.Target
		if target == "" {
			target = "unknown"
		}
		if d.Targets[ev.Kind] == nil {
			d.Targets[ev.Kind] = make(map[string]int)
		}
		d.Targets[ev.Kind][target]++
	}

	return d
}

// Total returns the number of events in the digest.
func (d *DigestSummary) Total() int {
	n := 0
	for _, c := range d.Counts {
		n += c
	}
	return n
}

// FormatDigest formats a DigestSummary as human-readable text suitable for
// ntfy or stdout output. Kinds are listed in event.Kinds order.
func FormatDigest(d *DigestSummary) string {
	var b strings.Builder

	dateRange := fmt.Sprintf("%s - %s",
		d.Since.Local().Format("Jan 02"),
		d.Until.Local().Format("Jan 02"))

	fmt.Fprintf(&b, "=== %s ===\n", d.InstanceID)
	fmt.Fprintf(&b, "Period: %s\n\n", dateRange)

	for _, kind := range event.Kinds {
		n := d.Counts[kind]
		fmt.Fprintf(&b, "%-18s %d", kind.Label()+":", n)
		if n > 0 && len(d.Targets[kind]) > 1 {
			fmt.Fprintf(&b, " (%s)", formatBreakdown(d.Targets[kind]))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// FormatDigestTitle generates the ntfy title for a digest notification.
func FormatDigestTitle(since, until time.Time) string {
	return fmt.Sprintf("\U0001f4ca vllmscope digest (%s-%s)",
		since.Local().Format("Jan 02"),
		until.Local().Format("Jan 02"))
}

// formatBreakdown turns a map[string]int into "foo x2, bar x1" sorted by count desc.
func formatBreakdown(m map[string]int) string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(m))
	for name, count := range m {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s ×%d", e.name, e.count)
	}
	return strings.Join(parts, ", ")
}
