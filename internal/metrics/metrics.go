// Package metrics polls the vLLM Prometheus endpoint and maps the samples
// onto a flat, typed record.
package metrics

import (
	"time"
)

// TimestampLayout is the UTC layout of VLLMMetrics and Snapshot timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// DefaultPort is the vLLM API port inside the container.
const DefaultPort = 8000

// VLLMMetrics is one reading of the server's metrics. Every numeric field
// defaults to zero when its source metric is absent.
type VLLMMetrics struct {
	Timestamp string `json:"timestamp"`

	GPUMemoryUtilization float64 `json:"gpu_memory_utilization"`
	GPUMemoryUsedBytes   int64   `json:"gpu_memory_used_bytes"`
	GPUMemoryTotalBytes  int64   `json:"gpu_memory_total_bytes"`

	CPUUtilization float64 `json:"cpu_utilization"`
	RAMUsedBytes   int64   `json:"ram_used_bytes"`
	RAMTotalBytes  int64   `json:"ram_total_bytes"`

	RequestCountTotal      int64 `json:"request_count_total"`
	RequestCountInProgress int64 `json:"request_count_in_progress"`
	RequestCountFinished   int64 `json:"request_count_finished"`

	PromptTokensTotal     int64 `json:"prompt_tokens_total"`
	GenerationTokensTotal int64 `json:"generation_tokens_total"`
	TotalTokensTotal      int64 `json:"total_tokens_total"`

	ThroughputTokensPerSecond   float64 `json:"throughput_tokens_per_second"`
	ThroughputRequestsPerSecond float64 `json:"throughput_requests_per_second"`

	AvgPromptLatencySeconds     float64 `json:"avg_prompt_latency_seconds"`
	AvgGenerationLatencySeconds float64 `json:"avg_generation_latency_seconds"`
	AvgTotalLatencySeconds      float64 `json:"avg_total_latency_seconds"`

	QueueSize          int64   `json:"queue_size"`
	TimeInQueueSeconds float64 `json:"time_in_queue_seconds"`

	NumActiveRequests   int64 `json:"num_active_requests"`
	NumWaitingRequests  int64 `json:"num_waiting_requests"`
	NumFinishedRequests int64 `json:"num_finished_requests"`

	ModelLoaded bool `json:"model_loaded"`
	// ModelName is nil when no model_name label was exposed.
	ModelName *string `json:"model_name"`
	Port      int     `json:"port"`
}

// Snapshot is a timestamped reading tagged with its source.
type Snapshot struct {
	Timestamp string      `json:"timestamp"`
	Metrics   VLLMMetrics `json:"metrics"`
	Source    string      `json:"source"`
}

// SourceVLLM is the only snapshot source.
const SourceVLLM = "vllm"

// Map builds a VLLMMetrics from parsed samples. It is pure; ts is stamped as
// given.
func Map(values map[string]float64, labels map[string]string, port int, ts time.Time) VLLMMetrics {
	get := func(name string) float64 { return values[name] }
	count := func(name string) int64 { return int64(values[name]) }

	m := VLLMMetrics{
		Timestamp: ts.UTC().Format(TimestampLayout),
		Port:      port,
	}

	// The toks/s series supersedes the older name when both are present.
	if v, ok := values["vllm:request_throughput"]; ok {
		m.ThroughputTokensPerSecond = v
	}
	if v, ok := values["vllm:request_throughput_toks_per_s"]; ok {
		m.ThroughputTokensPerSecond = v
	}

	m.GPUMemoryUsedBytes = count("gpu_memory_usage_bytes")

	waiting := count("vllm:num_requests_waiting")
	active := count("vllm:num_requests_processing")
	finished := count("vllm:num_requests_finished")

	m.QueueSize = waiting
	m.NumWaitingRequests = waiting
	m.NumActiveRequests = active
	m.RequestCountInProgress = active
	m.NumFinishedRequests = finished
	m.RequestCountFinished = finished
	m.RequestCountTotal = active + finished

	m.PromptTokensTotal = count("vllm:prompt_tokens_total")
	m.GenerationTokensTotal = count("vllm:generation_tokens_total")
	m.TotalTokensTotal = count("vllm:total_tokens_total")

	m.AvgPromptLatencySeconds = get("vllm:avg_prompt_latency")
	m.AvgGenerationLatencySeconds = get("vllm:avg_generation_latency")
	m.AvgTotalLatencySeconds = get("vllm:avg_total_latency")
	m.TimeInQueueSeconds = get("vllm:time_in_queue_avg")

	// Percentages on the wire, fractions in the record.
	m.CPUUtilization = get("process_cpu_percent") / 100
	m.GPUMemoryUtilization = get("gpu_util") / 100

	m.RAMUsedBytes = count("process_resident_memory_bytes")
	m.RAMTotalBytes = count("process_virtual_memory_bytes")

	m.ModelLoaded = len(values) > 0
	if name, ok := labels["model_name"]; ok {
		m.ModelName = &name
	}

	return m
}
