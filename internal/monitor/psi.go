package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Pressure is one line of a PSI file: the share of wall time, in percent,
// that tasks were stalled over 10s, 60s and 300s windows, plus the total
// stall time in microseconds.
type Pressure struct {
	Avg10  float64
	Avg60  float64
	Avg300 float64
	Total  uint64
}

// PSIStats is the memory pressure of the target host.
type PSIStats struct {
	// Some: at least one task stalled on memory.
	Some Pressure
	// Full: every non-idle task stalled at once.
	Full Pressure
}

// Exceeds reports whether either 10s average is above its threshold.
func (s PSIStats) Exceeds(warnSome, warnFull float64) bool {
	return s.Some.Avg10 > warnSome || s.Full.Avg10 > warnFull
}

// ReadPSI reads /proc/pressure/memory on the target.
func (p *Probe) ReadPSI(ctx context.Context) (PSIStats, error) {
	out, err := p.run(ctx, "cat", "/proc/pressure/memory")
	if err != nil {
		return PSIStats{}, err
	}
	return ParsePSI(out)
}

// ParsePSI parses the pressure file format:
//
//	some avg10=0.00 avg60=0.00 avg300=0.00 total=0
//	full avg10=0.00 avg60=0.00 avg300=0.00 total=0
//
// Kernels before 5.2 have no pressure files; a blank input is an error.
func ParsePSI(text string) (PSIStats, error) {
	var stats PSIStats
	found := false
	for _, line := range strings.Split(text, "\n") {
		kind, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		switch kind {
		case "some":
			stats.Some = parsePressure(rest)
		case "full":
			stats.Full = parsePressure(rest)
		default:
			continue
		}
		found = true
	}
	if !found {
		return PSIStats{}, fmt.Errorf("no pressure lines in %q", strings.TrimSpace(text))
	}
	return stats, nil
}

// parsePressure reads "avg10=2.10 avg60=0.50 avg300=0.10 total=123456".
// Unknown keys and unparsable values are ignored.
func parsePressure(fields string) Pressure {
	var p Pressure
	for _, kv := range strings.Fields(fields) {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if key == "total" {
			p.Total, _ = strconv.ParseUint(val, 10, 64)
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		switch key {
		case "avg10":
			p.Avg10 = f
		case "avg60":
			p.Avg60 = f
		case "avg300":
			p.Avg300 = f
		}
	}
	return p
}
