// Package classifier turns parsed log entries and metrics samples into
// incident events.
package classifier

import (
	"fmt"
	"time"

	"github.com/setevik/vllmscope/internal/event"
	"github.com/setevik/vllmscope/internal/logparse"
)

const maxSummaryLen = 100

// Classifier matches log entries to event kinds.
type Classifier struct {
	instanceID string
	target     string
	now        func() time.Time
}

// New creates a Classifier for the given instance and target.
func New(instanceID, target string) *Classifier {
	return &Classifier{instanceID: instanceID, target: target, now: time.Now}
}

// ClassifyLog examines a log entry and returns an event, or nil if the entry
// is neither a known failure nor logged at ERROR or CRITICAL.
func (c *Classifier) ClassifyLog(entry logparse.Entry) *event.Event {
	ts := c.parseTimestamp(entry.Timestamp)

	for _, p := range logPatterns {
		if !p.re.MatchString(entry.RawLine) {
			continue
		}
		ev := event.New(c.instanceID, c.target, ts, p.kind, p.severity, p.summary)
		ev.RawLine = entry.RawLine
		ev.Fields["level"] = string(entry.Level)
		annotate(ev, entry.RawLine)
		return ev
	}

	var sev event.Severity
	switch entry.Level {
	case logparse.LevelCritical:
		sev = event.SevHigh
	case logparse.LevelError:
		sev = event.SevMedium
	default:
		return nil
	}

	ev := event.New(c.instanceID, c.target, ts, event.KindLogError, sev, truncate(entry.Message))
	ev.RawLine = entry.RawLine
	ev.Fields["level"] = string(entry.Level)
	return ev
}

// annotate pulls structured fields out of a matched failure line and folds
// them into the summary.
func annotate(ev *event.Event, line string) {
	switch ev.Kind {
	case event.KindCUDAOOM:
		if m := oomGPURe.FindStringSubmatch(line); m != nil {
			ev.Fields["gpu"] = m[1]
		}
		if m := oomAllocRe.FindStringSubmatch(line); m != nil {
			ev.Fields["alloc"] = m[1]
			ev.Summary = fmt.Sprintf("%s (tried to allocate %s)", ev.Summary, m[1])
		}
	case event.KindEngineDead:
		if m := workerPIDRe.FindStringSubmatch(line); m != nil {
			ev.Fields["pid"] = m[1]
			if m[2] != "" {
				ev.Fields["exit_code"] = m[2]
				ev.Summary = fmt.Sprintf("%s (pid %s, exit %s)", ev.Summary, m[1], m[2])
			} else {
				ev.Summary = fmt.Sprintf("%s (pid %s)", ev.Summary, m[1])
			}
		}
	case event.KindNCCL:
		if m := ncclRankRe.FindStringSubmatch(line); m != nil {
			ev.Fields["rank"] = m[1]
			ev.Summary = fmt.Sprintf("%s on rank %s", ev.Summary, m[1])
		}
	}
}

// timestampLayouts are the shapes logparse emits, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp converts an entry timestamp to a time.Time. Zoneless
// timestamps are read as local time. Falls back to the current time.
func (c *Classifier) parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts
		}
	}
	return c.now()
}

func truncate(msg string) string {
	r := []rune(msg)
	if len(r) > maxSummaryLen {
		return string(r[:maxSummaryLen-3]) + "..."
	}
	return msg
}
