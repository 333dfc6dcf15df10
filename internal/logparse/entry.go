// Package logparse turns unstructured log lines into leveled entries.
//
// Parsing is heuristic and never fails: a line that matches nothing still
// yields an entry, at INFO level, stamped with the time it was parsed.
package logparse

import "strings"

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists all levels from least to most severe.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Levels {
		if l == known {
			return l, true
		}
	}
	return "", false
}

// Entry is one parsed log line. RawLine always holds the trimmed input.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
	RawLine   string `json:"raw_line"`
}
