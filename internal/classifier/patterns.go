package classifier

import (
	"regexp"

	"github.com/setevik/vllmscope/internal/event"
)

// logPattern maps a failure signature in the server log to an event kind.
type logPattern struct {
	kind     event.Kind
	severity event.Severity
	re       *regexp.Regexp
	summary  string
}

// logPatterns are tried in order; the first match wins. Lines that match
// none fall back to level-based classification.
var logPatterns = []logPattern{
	// CUDA allocator exhaustion.
	// Example: "torch.OutOfMemoryError: CUDA out of memory. Tried to allocate 2.00 GiB (GPU 0; ..."
	{
		kind:     event.KindCUDAOOM,
		severity: event.SevCritical,
		re:       regexp.MustCompile(`CUDA out of memory|OutOfMemoryError|CUDA error: out of memory`),
		summary:  "CUDA out of memory",
	},
	// KV cache too small for the configured context.
	// Example: "ValueError: No available memory for the cache blocks. Try increasing `gpu_memory_utilization`"
	{
		kind:     event.KindCUDAOOM,
		severity: event.SevCritical,
		re:       regexp.MustCompile(`No available memory for the cache blocks|insufficient KV cache`),
		summary:  "Not enough GPU memory for KV cache",
	},
	// Engine loop died; the API server stops serving.
	// Example: "vllm.engine.async_llm_engine.AsyncEngineDeadError: Background loop has errored already."
	{
		kind:     event.KindEngineDead,
		severity: event.SevCritical,
		re:       regexp.MustCompile(`EngineDeadError|Engine core proc \S+ died|Background loop has errored|engine core initialization failed|RuntimeError: Engine process failed to start`),
		summary:  "vLLM engine died",
	},
	// Worker process lost.
	// Example: "Worker VllmWorkerProcess pid 1234 died, exit code: -9"
	{
		kind:     event.KindEngineDead,
		severity: event.SevCritical,
		re:       regexp.MustCompile(`Worker \S+ pid \d+ died|worker died unexpectedly`),
		summary:  "vLLM worker process died",
	},
	// Collective communication failures in tensor/pipeline parallel runs.
	// Example: "[rank1]:[E ProcessGroupNCCL.cpp:616] Watchdog caught collective operation timeout"
	{
		kind:     event.KindNCCL,
		severity: event.SevHigh,
		re:       regexp.MustCompile(`NCCL error|ncclInternalError|ncclSystemError|ncclUnhandledCudaError|ProcessGroupNCCL.*(?:timeout|Timeout)|Watchdog caught collective operation timeout`),
		summary:  "NCCL communication failure",
	},
}

// oomAllocRe extracts the failed allocation size.
// Example: "Tried to allocate 2.00 GiB"
var oomAllocRe = regexp.MustCompile(`Tried to allocate ([\d.]+ [KMGT]iB)`)

// oomGPURe extracts the device index.
// Example: "(GPU 0; 79.15 GiB total capacity" or "GPU 1 has a total capacity of 79.15 GiB"
var oomGPURe = regexp.MustCompile(`GPU (\d+)`)

// workerPIDRe extracts the dead worker's pid and exit code.
// Example: "Worker VllmWorkerProcess pid 1234 died, exit code: -9"
var workerPIDRe = regexp.MustCompile(`pid (\d+) died(?:, exit code: (-?\d+))?`)

// ncclRankRe extracts the failing rank.
// Example: "[rank1]:[E ProcessGroupNCCL.cpp:616]"
var ncclRankRe = regexp.MustCompile(`\[rank(\d+)\]`)
