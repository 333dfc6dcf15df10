package reporter

import (
	"fmt"
	"strings"

	"github.com/setevik/vllmscope/internal/event"
)

// kindEmoji maps event kinds to display emojis for ntfy titles.
var kindEmoji = map[event.Kind]string{
	event.KindCUDAOOM:         "\U0001f534", // red circle
	event.KindEngineDead:      "\U0001f480", // skull
	event.KindNCCL:            "\U0001f517", // link
	event.KindHealthDegraded:  "\U0001f7e0", // orange circle
	event.KindHealthRecovered: "✅",     // check mark
	event.KindMetricsLost:     "\U0001f50c", // plug
	event.KindMetricsRestored: "✅",
}

// kindTags maps event kinds to ntfy tag names.
var kindTags = map[event.Kind]string{
	event.KindCUDAOOM:         "skull,memory",
	event.KindEngineDead:      "skull,crash",
	event.KindNCCL:            "warning,link",
	event.KindHealthDegraded:  "warning,chart_with_downwards_trend",
	event.KindHealthRecovered: "white_check_mark",
	event.KindMetricsLost:     "warning,electric_plug",
	event.KindMetricsRestored: "white_check_mark",
}

// FormatTitle builds the ntfy notification title for an event.
func FormatTitle(ev *event.Event) string {
	emoji := kindEmoji[ev.Kind]
	if emoji == "" {
		emoji = "❗" // exclamation mark
	}
	return fmt.Sprintf("%s [%s/%s] %s", emoji, ev.InstanceID, ev.Target, ev.Summary)
}

// FormatBody builds the ntfy notification body for an event.
func FormatBody(ev *event.Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Host: %s\n", ev.InstanceID)
	fmt.Fprintf(&b, "Target: %s\n", ev.Target)
	fmt.Fprintf(&b, "Time: %s\n", ev.Timestamp.Format("2006-01-02 15:04:05 MST"))

	if ev.RawLine != "" {
		fmt.Fprintf(&b, "\n%s\n", ev.RawLine)
	}
	if ev.Detail != "" {
		b.WriteString("\n")
		b.WriteString(ev.Detail)
	}

	return b.String()
}

// TagsForKind returns the ntfy tags string for an event kind.
func TagsForKind(kind event.Kind) string {
	if tags, ok := kindTags[kind]; ok {
		return tags
	}
	return "warning"
}
