package derive

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/setevik/vllmscope/internal/metrics"
)

func TestRecommend(t *testing.T) {
	tests := []struct {
		name string
		m    metrics.VLLMMetrics
		want []string
	}{
		{
			name: "not loaded",
			m:    metrics.VLLMMetrics{},
			want: []string{"No metrics exposed"},
		},
		{
			name: "healthy has no advice",
			m:    metrics.VLLMMetrics{ModelLoaded: true},
			want: nil,
		},
		{
			name: "gpu pressure",
			m:    metrics.VLLMMetrics{ModelLoaded: true, GPUMemoryUtilization: 0.95},
			want: []string{"gpu_memory_utilization"},
		},
		{
			name: "queue and latency",
			m: metrics.VLLMMetrics{
				ModelLoaded:            true,
				QueueSize:              12,
				AvgTotalLatencySeconds: 2,
				TimeInQueueSeconds:     1.5,
			},
			want: []string{"12 requests queued", "queued; scale out"},
		},
		{
			name: "degraded without a warning",
			m:    metrics.VLLMMetrics{ModelLoaded: true, GPUMemoryUtilization: 0.88},
			want: []string{"degraded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recommend(tt.m, Derive(tt.m, nil))
			if got == nil {
				t.Fatal("Recommend returned nil")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Recommend = %q, want %d items", got, len(tt.want))
			}
			for i, sub := range tt.want {
				if !strings.Contains(got[i], sub) {
					t.Errorf("recommendation %d = %q, want it to mention %q", i, got[i], sub)
				}
			}
		})
	}
}

func TestSummaryWireShape(t *testing.T) {
	s := Summarize(metrics.VLLMMetrics{ModelLoaded: true, QueueSize: 3}, nil)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Current         map[string]any `json:"current"`
		Derived         map[string]any `json:"derived"`
		Recommendations []string       `json:"recommendations"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Current["queue_size"] != float64(3) {
		t.Errorf("current.queue_size = %v", decoded.Current["queue_size"])
	}
	if decoded.Derived["health_status"] != "healthy" {
		t.Errorf("derived = %v", decoded.Derived)
	}
	if decoded.Recommendations == nil {
		t.Error("recommendations should encode as an empty list")
	}
}
