// Package logentry defines the canonical ingested event and query types
// shared across the ingestion pipeline, storage tiers, cache, and query
// service.
package logentry

import (
	"time"

	"github.com/google/uuid"
)

// Level is the enumerated severity of a LogEntry.
type Level string

const (
	LevelTrace Level = "TRACE"
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// Source identifies where an entry originated.
type Source struct {
	Service        string `json:"service"`
	Instance       string `json:"instance,omitempty"`
	Region         string `json:"region,omitempty"`
	Environment    string `json:"environment,omitempty"`
	ServiceVersion string `json:"service_version,omitempty"`
	Hostname       string `json:"hostname,omitempty"`
}

// Message holds the raw text plus an optional template and its parameters.
type Message struct {
	Raw        string            `json:"raw"`
	Template   string            `json:"template,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Trace carries distributed-tracing correlation fields.
type Trace struct {
	TraceID      string `json:"trace_id,omitempty"`
	SpanID       string `json:"span_id,omitempty"`
	ParentSpanID string `json:"parent_span_id,omitempty"`
	Flags        uint32 `json:"flags,omitempty"`
}

// Entities carries cross-system correlation identifiers.
type Entities struct {
	User        string `json:"user,omitempty"`
	Session     string `json:"session,omitempty"`
	Request     string `json:"request,omitempty"`
	Customer    string `json:"customer,omitempty"`
	Correlation string `json:"correlation,omitempty"`
}

// Metrics carries numeric annotations describing the event.
type Metrics struct {
	DurationMs  float64 `json:"duration_ms,omitempty"`
	CPUUsage    float64 `json:"cpu_usage,omitempty"`
	MemoryBytes int64   `json:"memory_bytes,omitempty"`
	ErrorRate   float64 `json:"error_rate,omitempty"`
	Throughput  float64 `json:"throughput,omitempty"`
}

// Security carries classification and access-control metadata.
type Security struct {
	Classification  string   `json:"classification"`
	RetentionPolicy string   `json:"retention_policy,omitempty"`
	PIIFields       []string `json:"pii_fields,omitempty"`
	AccessGroups    []string `json:"access_groups,omitempty"`
}

// MLAnnotation carries optional model-enrichment output.
type MLAnnotation struct {
	AnomalyScore     float64  `json:"anomaly_score,omitempty"`
	PredictedCategory string  `json:"predicted_category,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	RelatedPatterns  []string `json:"related_patterns,omitempty"`
}

// StoragePlacement records where and how an entry was persisted. Filled in
// by the ingestion pipeline — never trusted from the producer.
type StoragePlacement struct {
	Tier       string `json:"tier"`
	Compressed bool   `json:"compressed"`
	Indexed    bool   `json:"indexed"`
}

// LogEntry is the canonical ingested event.
type LogEntry struct {
	ID        uuid.UUID     `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Version   int           `json:"version"`
	Level     Level         `json:"level"`
	Source    Source        `json:"source"`
	Message   Message       `json:"message"`
	Trace     *Trace        `json:"trace,omitempty"`
	Entities  *Entities     `json:"entities,omitempty"`
	Metrics   *Metrics      `json:"metrics,omitempty"`
	Security  Security      `json:"security"`
	ML        *MLAnnotation `json:"ml,omitempty"`
	Storage   StoragePlacement `json:"storage"`
}

// Clone returns a deep-enough copy for safe concurrent fan-out (the pipeline
// hands the same entry to storage, bus, and subscription dispatch
// concurrently; each destination must not observe another's mutations).
func (e *LogEntry) Clone() *LogEntry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Trace != nil {
		t := *e.Trace
		clone.Trace = &t
	}
	if e.Entities != nil {
		en := *e.Entities
		clone.Entities = &en
	}
	if e.Metrics != nil {
		m := *e.Metrics
		clone.Metrics = &m
	}
	if e.ML != nil {
		ml := *e.ML
		clone.ML = &ml
	}
	if len(e.Message.Parameters) > 0 {
		clone.Message.Parameters = make(map[string]string, len(e.Message.Parameters))
		for k, v := range e.Message.Parameters {
			clone.Message.Parameters[k] = v
		}
	}
	return &clone
}
