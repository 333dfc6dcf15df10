// Package derive computes warnings, a health verdict and counter deltas from
// metrics readings.
package derive

import (
	"encoding/json"
	"fmt"

	"github.com/setevik/vllmscope/internal/metrics"
)

// Health is the coarse state of the server.
type Health string

const (
	Healthy  Health = "healthy"
	Degraded Health = "degraded"
)

// Warning thresholds. A reading strictly above one raises the warning.
const (
	GPUWarnUtilization = 0.90
	QueueWarnSize      = 10
	LoadWarnActive     = 100
)

// Health thresholds. Healthy requires every value strictly below its limit.
const (
	HealthyGPUUtilization = 0.85
	HealthyQueueSize      = 20
	HealthyActive         = 100
)

// Indicators are derived from one reading and, optionally, the one before.
// Absent warnings are empty; deltas are nil without a previous reading.
type Indicators struct {
	GPUWarning   string
	QueueWarning string
	LoadWarning  string

	// Deltas assume one time unit between readings; they are not divided by
	// the real elapsed time.
	TokensPerSecondDelta   *float64
	RequestsPerSecondDelta *float64

	HealthStatus Health
}

// Derive computes indicators for current. previous may be nil.
func Derive(current metrics.VLLMMetrics, previous *metrics.VLLMMetrics) Indicators {
	var d Indicators

	if current.GPUMemoryUtilization > GPUWarnUtilization {
		d.GPUWarning = "GPU memory utilization is above 90%"
	}
	if current.QueueSize > QueueWarnSize {
		d.QueueWarning = fmt.Sprintf("High queue size: %d requests waiting", current.QueueSize)
	}
	if current.NumActiveRequests > LoadWarnActive {
		d.LoadWarning = fmt.Sprintf("High request load: %d active requests", current.NumActiveRequests)
	}

	if previous != nil {
		const elapsed = 1.0
		tokens := float64(current.TotalTokensTotal-previous.TotalTokensTotal) / elapsed
		requests := float64(current.RequestCountFinished-previous.RequestCountFinished) / elapsed
		d.TokensPerSecondDelta = &tokens
		d.RequestsPerSecondDelta = &requests
	}

	d.HealthStatus = Degraded
	if current.GPUMemoryUtilization < HealthyGPUUtilization &&
		current.QueueSize < HealthyQueueSize &&
		current.NumActiveRequests < HealthyActive {
		d.HealthStatus = Healthy
	}

	return d
}

// Warnings returns the raised warnings in a fixed order.
func (d Indicators) Warnings() []string {
	var out []string
	for _, w := range []string{d.GPUWarning, d.QueueWarning, d.LoadWarning} {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Map returns the flat mapping form: only present keys appear.
func (d Indicators) Map() map[string]any {
	m := map[string]any{"health_status": string(d.HealthStatus)}
	if d.GPUWarning != "" {
		m["gpu_warning"] = d.GPUWarning
	}
	if d.QueueWarning != "" {
		m["queue_warning"] = d.QueueWarning
	}
	if d.LoadWarning != "" {
		m["load_warning"] = d.LoadWarning
	}
	if d.TokensPerSecondDelta != nil {
		m["tokens_per_second_delta"] = *d.TokensPerSecondDelta
	}
	if d.RequestsPerSecondDelta != nil {
		m["requests_per_second_delta"] = *d.RequestsPerSecondDelta
	}
	return m
}

func (d Indicators) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}
