// Package subscription maintains live queries against the ingestion
// stream and delivers matching entries to their owning callback, each
// subscription isolated from every other's delivery pace.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
)

// OverflowPolicy governs what happens when a subscription's delivery
// buffer is full and a new batch needs to be queued.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// DeliverFunc receives one matched batch. Errors are logged and do not
// unsubscribe the caller; a batch whose delivery failed is not redelivered.
type DeliverFunc func(ctx context.Context, entries []*logentry.LogEntry) error

// Options configures one subscription (§6 Subscription API).
type Options struct {
	BufferSize int
	OnOverflow OverflowPolicy
}

// Status reports a subscription's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

type subscription struct {
	id        uuid.UUID
	query     logentry.Query
	deliver   DeliverFunc
	opts      Options
	createdAt time.Time

	mu         sync.Mutex
	status     Status
	lastActive time.Time

	queue chan []*logentry.LogEntry
	done  chan struct{}
}

// Manager holds every live subscription and matches each ingested batch
// against them, fanning out matches to each subscription's own
// single-threaded delivery goroutine.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]*subscription

	stopCh chan struct{}
}

// Config carries the SUBSCRIPTION_* tunables.
type Config struct {
	DefaultBufferSize   int
	MaxIdle             time.Duration
	ExpiryCheckInterval time.Duration
}

func New(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultBufferSize <= 0 {
		cfg.DefaultBufferSize = 256
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 30 * time.Minute
	}
	if cfg.ExpiryCheckInterval <= 0 {
		cfg.ExpiryCheckInterval = time.Minute
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[uuid.UUID]*subscription),
		stopCh: make(chan struct{}),
	}
}

// Subscribe registers a new live query and starts its delivery goroutine.
// It returns the subscription id used for Unsubscribe.
func (m *Manager) Subscribe(ctx context.Context, q logentry.Query, opts Options, deliver DeliverFunc) (uuid.UUID, error) {
	if deliver == nil {
		return uuid.Nil, fmt.Errorf("subscription requires a non-nil deliver callback")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = m.cfg.DefaultBufferSize
	}
	if opts.OnOverflow == "" {
		opts.OnOverflow = OverflowBlock
	}

	now := time.Now()
	sub := &subscription{
		id:         uuid.New(),
		query:      q,
		deliver:    deliver,
		opts:       opts,
		createdAt:  now,
		lastActive: now,
		status:     StatusActive,
		queue:      make(chan []*logentry.LogEntry, opts.BufferSize),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	go m.runDelivery(sub)

	m.logger.Debug("subscription registered", zap.String("id", sub.id.String()))
	return sub.id, nil
}

// Unsubscribe cancels a subscription and stops its delivery goroutine.
// Unsubscribing an unknown or already-cancelled id is a no-op.
func (m *Manager) Unsubscribe(id uuid.UUID) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.cancel(StatusCancelled)
}

func (sub *subscription) cancel(status Status) {
	sub.mu.Lock()
	if sub.status != StatusActive {
		sub.mu.Unlock()
		return
	}
	sub.status = status
	sub.mu.Unlock()
	close(sub.done)
}

// Dispatch matches entries against every live subscription and enqueues
// each match for that subscription's own delivery goroutine. Satisfies
// ingest.Dispatcher.
func (m *Manager) Dispatch(ctx context.Context, entries []*logentry.LogEntry) error {
	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		matched := matchAll(sub.query, entries)
		if len(matched) == 0 {
			continue
		}
		sub.enqueue(matched)
	}
	return nil
}

// enqueue applies the subscription's overflow policy when its buffer is
// full: block parks until room opens (or the subscription is cancelled),
// drop_oldest discards the oldest queued batch to make room.
func (sub *subscription) enqueue(batch []*logentry.LogEntry) {
	switch sub.opts.OnOverflow {
	case OverflowDropOldest:
		for {
			select {
			case sub.queue <- batch:
				return
			default:
			}
			select {
			case <-sub.queue:
			default:
				return
			}
		}
	default: // block
		select {
		case sub.queue <- batch:
		case <-sub.done:
		}
	}
}

// runDelivery is the subscription's single delivery goroutine: entries
// for one subscription are delivered strictly in enqueue order, so a
// slow consumer only ever backs up its own queue.
func (m *Manager) runDelivery(sub *subscription) {
	for {
		select {
		case batch := <-sub.queue:
			sub.mu.Lock()
			sub.lastActive = time.Now()
			sub.mu.Unlock()
			if err := sub.deliver(context.Background(), batch); err != nil {
				m.logger.Warn("subscription delivery failed", zap.String("id", sub.id.String()), zap.Error(err))
			}
		case <-sub.done:
			return
		}
	}
}

// ExpireIdle cancels every subscription that has not taken a batch off its
// queue within max_idle (a failed delivery still counts as activity; a new
// subscription counts from its creation), returning how many were expired.
func (m *Manager) ExpireIdle(now time.Time) int {
	m.mu.Lock()
	var expired []*subscription
	for id, sub := range m.subs {
		sub.mu.Lock()
		idle := now.Sub(sub.lastActive)
		sub.mu.Unlock()
		if idle > m.cfg.MaxIdle {
			expired = append(expired, sub)
			delete(m.subs, id)
		}
	}
	m.mu.Unlock()

	for _, sub := range expired {
		sub.cancel(StatusExpired)
	}
	return len(expired)
}

// Run periodically expires idle subscriptions until Stop is called.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ExpiryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.ExpireIdle(time.Now()); n > 0 {
				m.logger.Info("expired idle subscriptions", zap.Int("count", n))
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

// Count reports the number of active subscriptions, for metrics/health.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}
