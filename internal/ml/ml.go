// Package ml defines the enrichment/pattern-detector hook the ingestion
// pipeline and query service call into. Only a keyword-matching mock
// implementation ships here — a real model integration is out of scope.
package ml

import (
	"context"

	"heimdall-backend/internal/logentry"
)

// Insight is one ML-derived observation attached to a query result.
type Insight struct {
	Kind       string  `json:"kind"`
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// Hook is the enrichment/insight contract. Annotate failures are always
// logged and swallowed by the caller — they never fail ingestion.
type Hook interface {
	Annotate(ctx context.Context, entry *logentry.LogEntry) error
	Insights(ctx context.Context, entries []*logentry.LogEntry) ([]Insight, error)
}
