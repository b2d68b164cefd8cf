// Package ingest implements the batch ingestion pipeline: validation and
// normalization, batch buffering with blocking backpressure, concurrent
// fan-out to storage/bus/subscription dispatch (each behind its own
// circuit breaker), and best-effort ML enrichment.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"heimdall-backend/internal/bus"
	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/circuitbreaker"
	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/ml"
	"heimdall-backend/internal/storage"
)

// Config carries the INGESTION_* tunables.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	MaxMessageLen  int
	DeadLetterSize int
}

// Dispatcher delivers a flushed batch to live subscriptions. Satisfied by
// subscription.Manager; kept as a narrow interface here so the ingestion
// pipeline does not depend on the subscription package's internals.
type Dispatcher interface {
	Dispatch(ctx context.Context, entries []*logentry.LogEntry) error
}

// FieldError reports why one entry in a batch was rejected.
type FieldError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result is the ingestion API's response shape (§6).
type Result struct {
	Accepted int          `json:"accepted"`
	Failed   int          `json:"failed"`
	Errors   []FieldError `json:"errors,omitempty"`
	// Degraded is never set by IngestBatch: it returns once the entries are
	// buffered, before the flush that fans them out, so a bus or dispatch
	// failure is not reported in this result; flush only logs it.
	Degraded bool `json:"degraded"`
}

// Pipeline buffers validated entries and flushes them to every
// destination on batch_size or flush_interval, whichever comes first.
type Pipeline struct {
	cfg     Config
	logger  *zap.Logger
	storage *storage.Manager
	bus     *bus.DeadLetterPublisher
	dispatch Dispatcher
	mlHook  ml.Hook
	cache   *cache.Cache
	breakers *circuitbreaker.Registry

	mu      sync.Mutex
	buffer  []*logentry.LogEntry
	waiters []chan struct{} // signaled when the buffer drains below batch_size

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(cfg Config, st *storage.Manager, busPub bus.Publisher, dispatch Dispatcher, mlHook ml.Hook, c *cache.Cache, breakers *circuitbreaker.Registry, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	var dlq *bus.DeadLetterPublisher
	if busPub != nil {
		dlq = bus.NewDeadLetterPublisher(busPub, cfg.DeadLetterSize, logger)
	}
	return &Pipeline{
		cfg:      cfg,
		logger:   logger,
		storage:  st,
		bus:      dlq,
		dispatch: dispatch,
		mlHook:   mlHook,
		cache:    c,
		breakers: breakers,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Ingest accepts a single entry.
func (p *Pipeline) Ingest(ctx context.Context, entry *logentry.LogEntry) error {
	result, err := p.IngestBatch(ctx, []*logentry.LogEntry{entry})
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		return apperrors.Validation(string(apperrors.CodeValidationFailed), result.Errors[0].Reason).Build()
	}
	return nil
}

// IngestBatch validates and normalizes every entry, then pushes the
// valid ones onto the flush buffer. When the buffer holds twice batch_size
// entries this blocks the caller until a flush drains it — entries are
// never dropped silently.
func (p *Pipeline) IngestBatch(ctx context.Context, entries []*logentry.LogEntry) (*Result, error) {
	result := &Result{}
	valid := make([]*logentry.LogEntry, 0, len(entries))

	for i, e := range entries {
		if err := e.Normalize(p.cfg.MaxMessageLen); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, FieldError{Index: i, Reason: err.Error()})
			continue
		}
		e.Storage = logentry.StoragePlacement{Tier: "hot", Compressed: false, Indexed: false}
		if p.mlHook != nil {
			if err := p.mlHook.Annotate(ctx, e); err != nil {
				p.logger.Debug("ml enrichment failed, entry proceeds un-enriched", zap.Error(err))
			}
		}
		valid = append(valid, e)
		result.Accepted++
	}

	if len(valid) == 0 {
		return result, nil
	}

	if err := p.enqueue(ctx, valid); err != nil {
		return nil, err
	}
	return result, nil
}

// enqueue appends entries to the buffer, blocking while it holds
// batch_size*2 entries, and signals a flush once it reaches batch_size.
func (p *Pipeline) enqueue(ctx context.Context, entries []*logentry.LogEntry) error {
	for _, e := range entries {
		for {
			p.mu.Lock()
			if len(p.buffer) < p.cfg.BatchSize*2 {
				p.buffer = append(p.buffer, e)
				full := len(p.buffer) >= p.cfg.BatchSize
				p.mu.Unlock()
				if full {
					select {
					case p.flushCh <- struct{}{}:
					default:
					}
				}
				break
			}
			wait := make(chan struct{})
			p.waiters = append(p.waiters, wait)
			p.mu.Unlock()

			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Run drives the flush loop until Stop is called or ctx ends.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flush(ctx)
		case <-p.flushCh:
			p.flush(ctx)
		case <-p.stopCh:
			p.flush(ctx)
			return
		case <-ctx.Done():
			p.flush(ctx)
			return
		}
	}
}

func (p *Pipeline) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	outcome := p.fanOut(ctx, batch)
	if outcome.degraded {
		p.logger.Warn("batch flush partially succeeded", zap.Int("size", len(batch)), zap.Bool("storage_ok", outcome.storageOK), zap.Bool("bus_ok", outcome.busOK), zap.Bool("dispatch_ok", outcome.dispatchOK))
	}

	if p.cache != nil {
		tags := make(map[string]struct{})
		for _, e := range batch {
			tags[cache.ServiceTag(e.Source.Service)] = struct{}{}
		}
		for tag := range tags {
			p.cache.InvalidateByTags(tag)
		}
	}
}

type fanOutOutcome struct {
	storageOK, busOK, dispatchOK bool
	degraded                     bool
}

// fanOut submits the batch to storage, bus, and subscription dispatch
// concurrently, each wrapped by its own circuit breaker. A storage
// failure is never swallowed; a bus or dispatch failure only marks the
// outcome degraded, which flush logs, instead of failing the batch.
func (p *Pipeline) fanOut(ctx context.Context, batch []*logentry.LogEntry) fanOutOutcome {
	var wg sync.WaitGroup
	outcome := fanOutOutcome{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := p.breakers.Get("storage").Execute(func() error {
			return p.storage.StoreBatch(ctx, batch)
		})
		if err != nil {
			p.logger.Error("storage write failed for ingested batch", zap.Error(err))
			return
		}
		outcome.storageOK = true
	}()

	if p.bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.breakers.Get("bus").Execute(func() error {
				return p.bus.Publish(ctx, batch)
			})
			if err != nil {
				p.logger.Warn("bus publish failed, queued for retry", zap.Error(err))
				return
			}
			outcome.busOK = true
		}()
	} else {
		outcome.busOK = true
	}

	if p.dispatch != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.breakers.Get("subscription").Execute(func() error {
				return p.dispatch.Dispatch(ctx, batch)
			})
			if err != nil {
				p.logger.Warn("subscription dispatch failed", zap.Error(err))
				return
			}
			outcome.dispatchOK = true
		}()
	} else {
		outcome.dispatchOK = true
	}

	wg.Wait()
	outcome.degraded = !outcome.storageOK || !outcome.busOK || !outcome.dispatchOK
	return outcome
}

// Stop flushes any buffered entries and ends the Run loop.
func (p *Pipeline) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
}
