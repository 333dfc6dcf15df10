// Package promtext reads the subset of the Prometheus text exposition format
// that the vLLM metrics endpoint serves: one unlabeled sample per line.
package promtext

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// sampleRe matches "name value". Labeled samples ("name{...} value") do
	// not match and are skipped.
	sampleRe = regexp.MustCompile(`^([a-zA-Z_:][a-zA-Z0-9_:]*)\s+(.+)$`)

	// labelBlockRe finds the first "name{...}" block in a comment line.
	labelBlockRe = regexp.MustCompile(`#\s*([a-zA-Z_:][a-zA-Z0-9_:]*)\{([^}]+)\}`)

	labelPairRe = regexp.MustCompile(`(\w+)="([^"]*)"`)
)

// Parse returns every well-formed sample in text keyed by metric name. Blank
// lines, comments and lines that do not parse are skipped silently. When a
// name repeats, the last value wins.
func Parse(text string) map[string]float64 {
	values := make(map[string]float64)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := sampleRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
		if err != nil {
			continue
		}
		values[m[1]] = v
	}
	return values
}

// Labels scans comment lines for a "name{k="v",...}" block and returns the
// model_name label if one is present. Later lines override earlier ones.
func Labels(text string) map[string]string {
	labels := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, "#") || !strings.Contains(line, "=") {
			continue
		}
		m := labelBlockRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for _, pair := range labelPairRe.FindAllStringSubmatch(m[2], -1) {
			if pair[1] == "model_name" {
				labels["model_name"] = pair[2]
			}
		}
	}
	return labels
}
