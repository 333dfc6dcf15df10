package logparse

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 890000000, time.UTC)

func TestParseAt(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		timestamp string
		level     Level
		message   string
	}{
		{
			name:      "iso timestamp with zone and level",
			line:      "2024-01-15T10:30:00Z ERROR something broke",
			timestamp: "2024-01-15T10:30:00Z",
			level:     LevelError,
			message:   "something broke",
		},
		{
			name:      "no structure",
			line:      "no structure here",
			timestamp: "2026-03-04T05:06:07.890000Z",
			level:     LevelInfo,
			message:   "no structure here",
		},
		{
			name:      "vllm short form",
			line:      "INFO 01-15 10:30:00 [api_server.py:42] Started server process",
			timestamp: "2026-01-15 10:30:00",
			level:     LevelInfo,
			message:   "[api_server.py:42] Started server process",
		},
		{
			name:      "fractional seconds and offset",
			line:      "2024-01-15 10:30:00.123456+01:00 - WARNING - cache nearly full",
			timestamp: "2024-01-15 10:30:00.123456+01:00",
			level:     LevelWarning,
			message:   "cache nearly full",
		},
		{
			name:      "level before timestamp",
			line:      "CRITICAL 2024-01-15T10:30:00 : engine died",
			timestamp: "2024-01-15T10:30:00",
			level:     LevelCritical,
			message:   "engine died",
		},
		{
			name:      "lowercase level",
			line:      "debug: loading weights",
			timestamp: "2026-03-04T05:06:07.890000Z",
			level:     LevelDebug,
			message:   "loading weights",
		},
		{
			name:      "header only falls back to full line",
			line:      "2024-01-15T10:30:00Z ERROR",
			timestamp: "2024-01-15T10:30:00Z",
			level:     LevelError,
			message:   "2024-01-15T10:30:00Z ERROR",
		},
		{
			// Level tokens are not word-bounded.
			name:      "level token inside a word",
			line:      "information retrieved",
			timestamp: "2026-03-04T05:06:07.890000Z",
			level:     LevelInfo,
			message:   "rmation retrieved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAt(tt.line, fixedNow)
			if got.Timestamp != tt.timestamp {
				t.Errorf("Timestamp = %q, want %q", got.Timestamp, tt.timestamp)
			}
			if got.Level != tt.level {
				t.Errorf("Level = %q, want %q", got.Level, tt.level)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
		})
	}
}

func TestParseIsLossless(t *testing.T) {
	lines := []string{
		"  padded line with spaces  ",
		"\tERROR\t",
		":::",
		" - ",
		"2024-01-15T10:30:00Z",
		"01-15 10:30:00",
		"ünïcödé WARNING ✓",
		strings.Repeat("x", 10000),
	}

	for _, line := range lines {
		got := Parse(line)
		if got.RawLine != strings.TrimSpace(line) {
			t.Errorf("RawLine = %q, want %q", got.RawLine, strings.TrimSpace(line))
		}
		if got.Message == "" {
			t.Errorf("Parse(%q) returned empty message", line)
		}
		if got.Level == "" {
			t.Errorf("Parse(%q) returned empty level", line)
		}
	}
}

func TestParseFallbackUsesCurrentTime(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	got := Parse("no timestamp")
	after := time.Now().UTC().Add(time.Second)

	ts, err := time.Parse(fallbackLayout, got.Timestamp)
	if err != nil {
		t.Fatalf("fallback timestamp %q does not parse: %v", got.Timestamp, err)
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("fallback timestamp %v not within [%v, %v]", ts, before, after)
	}
}

func TestTimestampPatternsIndependently(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    string
	}{
		{"iso8601", "at 2024-01-15T10:30:00.5Z here", "2024-01-15T10:30:00.5Z"},
		{"iso8601", "2024-01-15 10:30:00-0700", "2024-01-15 10:30:00-0700"},
		{"month-day", "12-31 23:59:59 bye", "2025-12-31 23:59:59"},
		{"month-day", "03-04 12:00:00 later today", "2026-03-04 12:00:00"},
	}

	for _, tt := range tests {
		var p *timestampPattern
		for i := range timestampPatterns {
			if timestampPatterns[i].name == tt.pattern {
				p = &timestampPatterns[i]
			}
		}
		if p == nil {
			t.Fatalf("pattern %q not found", tt.pattern)
		}
		m := p.re.FindString(tt.input)
		if m == "" {
			t.Errorf("%s did not match %q", tt.pattern, tt.input)
			continue
		}
		if got := p.extract(m, fixedNow); got != tt.want {
			t.Errorf("%s(%q) = %q, want %q", tt.pattern, tt.input, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, ok := ParseLevel("error"); !ok || l != LevelError {
		t.Errorf("ParseLevel(error) = %q, %v", l, ok)
	}
	if l, ok := ParseLevel(" Warning "); !ok || l != LevelWarning {
		t.Errorf("ParseLevel(Warning) = %q, %v", l, ok)
	}
	if _, ok := ParseLevel("WARN"); ok {
		t.Error("ParseLevel(WARN) should not be recognized")
	}
}

func TestEntryWireShape(t *testing.T) {
	e := ParseAt("2024-01-15T10:30:00Z ERROR boom", fixedNow)
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"timestamp":"2024-01-15T10:30:00Z","level":"ERROR","message":"boom","raw_line":"2024-01-15T10:30:00Z ERROR boom"}`
	if string(data) != want {
		t.Errorf("json = %s\nwant   %s", data, want)
	}
}

func TestShortTimestampAcrossNewYear(t *testing.T) {
	tests := []struct {
		now  time.Time
		line string
		want string
	}{
		{time.Date(2027, 1, 1, 0, 0, 5, 0, time.UTC), "INFO 12-31 23:59:59 last of the year", "2026-12-31 23:59:59"},
		{time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), "INFO 12-31 23:59:59 clock skew", "2026-12-31 23:59:59"},
		{time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), "INFO 06-01 00:00:01 same day", "2026-06-01 00:00:01"},
	}
	for _, tt := range tests {
		if got := ParseAt(tt.line, tt.now).Timestamp; got != tt.want {
			t.Errorf("ParseAt(%q, %v).Timestamp = %q, want %q", tt.line, tt.now, got, tt.want)
		}
	}
}
