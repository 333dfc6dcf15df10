package derive

import (
	"fmt"

	"github.com/setevik/vllmscope/internal/metrics"
)

// Summary is the combined view served to operators.
type Summary struct {
	Current         metrics.VLLMMetrics `json:"current"`
	Derived         Indicators          `json:"derived"`
	Recommendations []string            `json:"recommendations"`
}

// Summarize derives indicators for current and attaches recommendations.
func Summarize(current metrics.VLLMMetrics, previous *metrics.VLLMMetrics) Summary {
	d := Derive(current, previous)
	return Summary{
		Current:         current,
		Derived:         d,
		Recommendations: Recommend(current, d),
	}
}

// Recommend maps a reading and its indicators to operator advice. It never
// returns nil.
func Recommend(m metrics.VLLMMetrics, d Indicators) []string {
	recs := []string{}

	if !m.ModelLoaded {
		return append(recs, "No metrics exposed; check that the model finished loading")
	}
	if d.GPUWarning != "" {
		recs = append(recs, "Lower gpu_memory_utilization or max_num_seqs to leave KV cache headroom")
	}
	if d.QueueWarning != "" {
		recs = append(recs, fmt.Sprintf("%d requests queued; consider adding replicas or raising max_num_batched_tokens", m.QueueSize))
	}
	if d.LoadWarning != "" {
		recs = append(recs, "Active request count is high; consider rate limiting clients")
	}
	if m.CPUUtilization > 0.9 {
		recs = append(recs, "CPU is saturated; tokenization may be the bottleneck")
	}
	if m.AvgTotalLatencySeconds > 0 && m.TimeInQueueSeconds > m.AvgTotalLatencySeconds/2 {
		recs = append(recs, "Requests spend most of their latency queued; scale out")
	}
	if d.HealthStatus == Degraded && len(recs) == 0 {
		recs = append(recs, "Server is degraded; watch GPU memory and queue depth")
	}
	return recs
}
