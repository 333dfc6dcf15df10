package metrics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)

func TestMapFields(t *testing.T) {
	values := map[string]float64{
		"vllm:request_throughput":        10,
		"gpu_memory_usage_bytes":         4096,
		"vllm:num_requests_waiting":      3,
		"vllm:num_requests_processing":   2,
		"vllm:num_requests_finished":     40,
		"vllm:prompt_tokens_total":       1000,
		"vllm:generation_tokens_total":   500,
		"vllm:total_tokens_total":        1500,
		"vllm:avg_prompt_latency":        0.1,
		"vllm:avg_generation_latency":    0.2,
		"vllm:avg_total_latency":         0.3,
		"vllm:time_in_queue_avg":         0.05,
		"process_cpu_percent":            50,
		"process_resident_memory_bytes":  2048,
		"process_virtual_memory_bytes":   8192,
		"gpu_util":                       95,
	}

	m := Map(values, map[string]string{"model_name": "llama"}, 8000, fixedNow)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"throughput tokens", m.ThroughputTokensPerSecond, 10},
		{"throughput requests", m.ThroughputRequestsPerSecond, 0},
		{"gpu used", float64(m.GPUMemoryUsedBytes), 4096},
		{"gpu total", float64(m.GPUMemoryTotalBytes), 0},
		{"queue", float64(m.QueueSize), 3},
		{"waiting", float64(m.NumWaitingRequests), 3},
		{"active", float64(m.NumActiveRequests), 2},
		{"in progress", float64(m.RequestCountInProgress), 2},
		{"finished", float64(m.NumFinishedRequests), 40},
		{"request finished", float64(m.RequestCountFinished), 40},
		{"request total", float64(m.RequestCountTotal), 42},
		{"prompt tokens", float64(m.PromptTokensTotal), 1000},
		{"generation tokens", float64(m.GenerationTokensTotal), 500},
		{"total tokens", float64(m.TotalTokensTotal), 1500},
		{"prompt latency", m.AvgPromptLatencySeconds, 0.1},
		{"generation latency", m.AvgGenerationLatencySeconds, 0.2},
		{"total latency", m.AvgTotalLatencySeconds, 0.3},
		{"time in queue", m.TimeInQueueSeconds, 0.05},
		{"cpu", m.CPUUtilization, 0.5},
		{"ram used", float64(m.RAMUsedBytes), 2048},
		{"ram total", float64(m.RAMTotalBytes), 8192},
		{"gpu util", m.GPUMemoryUtilization, 0.95},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if !m.ModelLoaded {
		t.Error("ModelLoaded = false, want true")
	}
	if m.ModelName == nil || *m.ModelName != "llama" {
		t.Errorf("ModelName = %v", m.ModelName)
	}
	if m.Port != 8000 {
		t.Errorf("Port = %d", m.Port)
	}
	if m.Timestamp != "2026-03-04T05:06:07.123456Z" {
		t.Errorf("Timestamp = %q", m.Timestamp)
	}
}

func TestMapThroughputPrefersToksPerSecond(t *testing.T) {
	m := Map(map[string]float64{
		"vllm:request_throughput":            10,
		"vllm:request_throughput_toks_per_s": 25,
	}, nil, 8000, fixedNow)
	if m.ThroughputTokensPerSecond != 25 {
		t.Errorf("ThroughputTokensPerSecond = %v, want 25", m.ThroughputTokensPerSecond)
	}
}

func TestMapEmpty(t *testing.T) {
	m := Map(map[string]float64{}, map[string]string{}, 9000, fixedNow)
	if m.ModelLoaded {
		t.Error("empty input should not count as a loaded model")
	}
	if m.ModelName != nil {
		t.Errorf("ModelName = %q, want nil", *m.ModelName)
	}
	if m.RequestCountTotal != 0 || m.QueueSize != 0 || m.CPUUtilization != 0 {
		t.Errorf("non-zero defaults: %+v", m)
	}
}

func TestMapUnrelatedMetricsStillLoaded(t *testing.T) {
	m := Map(map[string]float64{"python_gc_objects_collected_total": 12}, nil, 8000, fixedNow)
	if !m.ModelLoaded {
		t.Error("any parsed metric should mark the model loaded")
	}
}

func TestMetricsWireShape(t *testing.T) {
	m := Map(map[string]float64{"vllm:num_requests_waiting": 5}, nil, 8000, fixedNow)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, key := range []string{
		`"queue_size":5`,
		`"num_waiting_requests":5`,
		`"model_loaded":true`,
		`"model_name":null`,
		`"port":8000`,
		`"throughput_requests_per_second":0`,
	} {
		if !strings.Contains(s, key) {
			t.Errorf("json missing %s: %s", key, s)
		}
	}
}
