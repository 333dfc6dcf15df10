package monitor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/setevik/vllmscope/internal/format"
)

// GPUStatus is one device as reported by nvidia-smi.
type GPUStatus struct {
	Index       int
	Name        string
	Temperature int   // degrees Celsius, 0 if unavailable
	Utilization int   // percent
	VRAMUsed    int64 // bytes
	VRAMTotal   int64 // bytes
}

var nvidiaSMIQuery = []string{
	"nvidia-smi",
	"--query-gpu=index,name,temperature.gpu,utilization.gpu,memory.used,memory.total",
	"--format=csv,noheader,nounits",
}

// QueryGPUs lists the target's NVIDIA GPUs.
func (p *Probe) QueryGPUs(ctx context.Context) ([]GPUStatus, error) {
	out, err := p.run(ctx, nvidiaSMIQuery...)
	if err != nil {
		return nil, err
	}
	return ParseNvidiaSMI(out), nil
}

// ParseNvidiaSMI parses the CSV rows of the GPU query. Malformed rows are
// skipped; unreadable columns ("[N/A]") stay zero.
//
// Example row: "0, NVIDIA A100-SXM4-80GB, 41, 87, 72000, 81920"
func ParseNvidiaSMI(out string) []GPUStatus {
	var gpus []GPUStatus
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		gpu := GPUStatus{Index: idx, Name: parts[1]}
		gpu.Temperature, _ = strconv.Atoi(parts[2])
		gpu.Utilization, _ = strconv.Atoi(parts[3])
		if v, err := strconv.ParseInt(parts[4], 10, 64); err == nil {
			gpu.VRAMUsed = v * format.MB // MiB to bytes
		}
		if v, err := strconv.ParseInt(parts[5], 10, 64); err == nil {
			gpu.VRAMTotal = v * format.MB
		}
		gpus = append(gpus, gpu)
	}
	return gpus
}

// FormatGPUStatus returns a human-readable summary of GPU status.
func FormatGPUStatus(gpu GPUStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GPU %d: %s\n", gpu.Index, gpu.Name)

	if gpu.Temperature > 0 {
		fmt.Fprintf(&b, "  Temperature: %d°C\n", gpu.Temperature)
	}
	fmt.Fprintf(&b, "  Utilization: %d%%\n", gpu.Utilization)

	if gpu.VRAMTotal > 0 {
		fmt.Fprintf(&b, "  VRAM: %s\n", format.Usage(gpu.VRAMUsed, gpu.VRAMTotal))
	}

	return b.String()
}
