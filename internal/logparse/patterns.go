package logparse

import (
	"fmt"
	"regexp"
	"time"
)

// timestampPattern pairs a matcher with the function that turns its match
// into the entry's timestamp string.
type timestampPattern struct {
	name    string
	re      *regexp.Regexp
	extract func(match string, now time.Time) string
}

// timestampPatterns are tried in order; the first match wins.
var timestampPatterns = []timestampPattern{
	// ISO-8601, optional fraction and zone.
	// Example: "2024-01-15T10:30:00.123+00:00", "2024-01-15 10:30:00"
	{
		name:    "iso8601",
		re:      regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`),
		extract: func(m string, _ time.Time) string { return m },
	},
	// vLLM's short form carries no year; borrow it from the parse time.
	// Example: "INFO 01-15 10:30:00 [api_server.py:42] ..."
	{
		name:    "month-day",
		re:      regexp.MustCompile(`\d{2}-\d{2} \d{2}:\d{2}:\d{2}`),
		extract: withYear,
	},
}

// levelRe finds the first level token anywhere in the line.
var levelRe = regexp.MustCompile(`(?i)(DEBUG|INFO|WARNING|ERROR|CRITICAL)`)

// leadingSeparatorRe strips separators left between the header and the message.
var leadingSeparatorRe = regexp.MustCompile(`^[\s:\-]+`)

// fallbackLayout formats the parse time when a line carries no timestamp.
const fallbackLayout = "2006-01-02T15:04:05.000000Z"

// withYear prefixes a yearless "MM-DD hh:mm:ss" stamp with now's year, or
// the year before when that would put the line more than a day in the
// future (a December line read in early January).
func withYear(m string, now time.Time) string {
	year := now.Year()
	t, err := time.ParseInLocation("2006-01-02 15:04:05", fmt.Sprintf("%04d-%s", year, m), now.Location())
	if err == nil && t.After(now.Add(24*time.Hour)) {
		year--
	}
	return fmt.Sprintf("%04d-%s", year, m)
}
