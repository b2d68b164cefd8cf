package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
)

// DeadLetterPublisher wraps a Publisher and retries failed batches from a
// bounded in-memory queue instead of losing them. When the queue is full,
// the oldest queued batch is dropped to make room — the dead letter queue
// is a best-effort retry buffer, not a durable log.
type DeadLetterPublisher struct {
	inner    Publisher
	logger   *zap.Logger
	maxSize  int
	mu       sync.Mutex
	queued   [][]*logentry.LogEntry
	draining bool
}

func NewDeadLetterPublisher(inner Publisher, maxSize int, logger *zap.Logger) *DeadLetterPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSize <= 0 {
		maxSize = 100
	}
	return &DeadLetterPublisher{inner: inner, logger: logger, maxSize: maxSize}
}

// Publish attempts immediate delivery; on failure the batch is queued for
// a later Retry call rather than surfaced as an ingestion failure, so a
// transient bus outage degrades to partial_success instead of failing
// the whole batch.
func (p *DeadLetterPublisher) Publish(ctx context.Context, entries []*logentry.LogEntry) error {
	if err := p.inner.Publish(ctx, entries); err != nil {
		p.enqueue(entries)
		return err
	}
	return nil
}

func (p *DeadLetterPublisher) enqueue(entries []*logentry.LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queued) >= p.maxSize {
		p.logger.Warn("dead letter queue full, dropping oldest batch", zap.Int("max_size", p.maxSize))
		p.queued = p.queued[1:]
	}
	p.queued = append(p.queued, entries)
}

// Retry drains the dead letter queue, stopping at the first batch that
// still fails so later batches keep their relative order for the next
// Retry call.
func (p *DeadLetterPublisher) Retry(ctx context.Context) (succeeded, remaining int) {
	p.mu.Lock()
	batch := p.queued
	p.queued = nil
	p.mu.Unlock()

	for i, entries := range batch {
		if err := p.inner.Publish(ctx, entries); err != nil {
			p.mu.Lock()
			p.queued = append(batch[i:], p.queued...)
			p.mu.Unlock()
			return i, len(batch) - i
		}
		succeeded++
	}
	return succeeded, 0
}

// QueueDepth reports how many batches are currently queued for retry.
func (p *DeadLetterPublisher) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued)
}

func (p *DeadLetterPublisher) Close() error { return p.inner.Close() }
