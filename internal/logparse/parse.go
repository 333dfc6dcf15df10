package logparse

import (
	"strings"
	"time"
)

// Parse parses a single log line using the current time as the fallback
// timestamp. It never fails.
func Parse(line string) Entry {
	return ParseAt(line, time.Now())
}

// ParseAt parses line with now as the fallback timestamp and as the source
// of the year for short timestamps.
func ParseAt(line string, now time.Time) Entry {
	trimmed := strings.TrimSpace(line)

	entry := Entry{
		Timestamp: now.UTC().Format(fallbackLayout),
		Level:     LevelInfo,
		RawLine:   trimmed,
	}

	messageStart := 0
	for _, p := range timestampPatterns {
		loc := p.re.FindStringIndex(trimmed)
		if loc == nil {
			continue
		}
		entry.Timestamp = p.extract(trimmed[loc[0]:loc[1]], now)
		messageStart = loc[1]
		break
	}

	if loc := levelRe.FindStringIndex(trimmed); loc != nil {
		entry.Level = Level(strings.ToUpper(trimmed[loc[0]:loc[1]]))
		if loc[1] > messageStart {
			messageStart = loc[1]
		}
	}

	msg := leadingSeparatorRe.ReplaceAllString(strings.TrimSpace(trimmed[messageStart:]), "")
	if msg == "" {
		msg = trimmed
	}
	entry.Message = msg

	return entry
}
