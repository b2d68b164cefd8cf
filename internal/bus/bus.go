// Package bus adapts the ingestion pipeline's fan-out to a message bus.
// The only production implementation is EventBridge, but the interface
// keeps the ingestion pipeline and subscription dispatch independent of
// a specific transport.
package bus

import (
	"context"

	"heimdall-backend/internal/logentry"
)

// Publisher delivers ingested entries to whatever consumes them
// downstream of the process (dashboards, alerting, cross-service fan-out).
type Publisher interface {
	Publish(ctx context.Context, entries []*logentry.LogEntry) error
	Close() error
}

// NoOpPublisher is used when BUS_ENABLED is false; it reports success
// without doing anything, so the ingestion pipeline's fan-out logic
// never has to special-case "no bus configured".
type NoOpPublisher struct{}

func NewNoOpPublisher() Publisher { return &NoOpPublisher{} }

func (NoOpPublisher) Publish(ctx context.Context, entries []*logentry.LogEntry) error { return nil }
func (NoOpPublisher) Close() error                                                    { return nil }
