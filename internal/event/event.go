// Package event defines the incident record shared by the classifier,
// enricher, store and reporter.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what happened.
type Kind string

const (
	KindLogError        Kind = "log_error"
	KindCUDAOOM         Kind = "cuda_oom"
	KindEngineDead      Kind = "engine_dead"
	KindNCCL            Kind = "nccl_error"
	KindHealthDegraded  Kind = "health_degraded"
	KindHealthRecovered Kind = "health_recovered"
	KindMetricsLost     Kind = "metrics_lost"
	KindMetricsRestored Kind = "metrics_restored"
)

// Kinds lists every kind in display order.
var Kinds = []Kind{
	KindCUDAOOM,
	KindEngineDead,
	KindNCCL,
	KindLogError,
	KindHealthDegraded,
	KindHealthRecovered,
	KindMetricsLost,
	KindMetricsRestored,
}

// Severity indicates the urgency of an event.
type Severity string

const (
	SevCritical Severity = "critical"
	SevHigh     Severity = "high"
	SevMedium   Severity = "medium"
	SevWarning  Severity = "warning"
	SevInfo     Severity = "info"
)

// Source says which engine produced an event.
type Source string

const (
	SourceLog     Source = "log"
	SourceMetrics Source = "metrics"
)

// Event is a classified incident with enriched context.
type Event struct {
	ID         string            `json:"id"`
	InstanceID string            `json:"instance_id"`
	Target     string            `json:"target"`
	Timestamp  time.Time         `json:"timestamp"`
	Kind       Kind              `json:"kind"`
	Severity   Severity          `json:"severity"`
	Source     Source            `json:"source"`
	Summary    string            `json:"summary"`
	Detail     string            `json:"detail,omitempty"`
	RawLine    string            `json:"raw_line,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`

	// Notified is set by the store once the notification was delivered.
	Notified bool `json:"notified"`
}

// New creates an Event with a generated UUID.
func New(instanceID, target string, ts time.Time, kind Kind, sev Severity, summary string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		InstanceID: instanceID,
		Target:     target,
		Timestamp:  ts,
		Kind:       kind,
		Severity:   sev,
		Source:     kind.Source(),
		Summary:    summary,
		Fields:     make(map[string]string),
	}
}

// Label returns a human-readable label for the kind.
func (k Kind) Label() string {
	switch k {
	case KindLogError:
		return "Log Error"
	case KindCUDAOOM:
		return "CUDA OOM"
	case KindEngineDead:
		return "Engine Dead"
	case KindNCCL:
		return "NCCL Failure"
	case KindHealthDegraded:
		return "Health Degraded"
	case KindHealthRecovered:
		return "Health Recovered"
	case KindMetricsLost:
		return "Metrics Lost"
	case KindMetricsRestored:
		return "Metrics Restored"
	default:
		return string(k)
	}
}

// Source returns the engine that produces events of this kind.
func (k Kind) Source() Source {
	switch k {
	case KindHealthDegraded, KindHealthRecovered, KindMetricsLost, KindMetricsRestored:
		return SourceMetrics
	default:
		return SourceLog
	}
}

// ParseKind accepts a kind name or its label, case-insensitively.
func ParseKind(s string) (Kind, bool) {
	s = strings.TrimSpace(s)
	for _, k := range Kinds {
		if strings.EqualFold(s, string(k)) || strings.EqualFold(s, k.Label()) {
			return k, true
		}
	}
	return "", false
}

// Label returns a human-readable label for severity.
func (s Severity) Label() string {
	return string(s)
}
