// Package resourcemgr enforces process-wide resource ceilings across every
// registered pool and publishes pressure signals when usage gets close to
// them, per the resource manager responsibility in the reliability core.
package resourcemgr

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
	"heimdall-backend/internal/pool"
)

// Limits are the process-wide ceilings this manager enforces.
type Limits struct {
	MaxMemoryMB            int64
	MaxConnections         int
	MaxCacheSizeBytes      int64
	MaxConcurrentQueries   int
	MaxStreamSubscriptions int
}

// CacheSizer lets a registered cache report its resident size so the
// manager can enforce the global cache ceiling and ask it to shrink under
// pressure.
type CacheSizer interface {
	SizeBytes() int64
	ReducePressure(ctx context.Context)
}

// PressureEvent is published when heap or connection usage crosses 80% of
// its ceiling.
type PressureEvent struct {
	Kind      string // "memory" or "connections"
	UsageRate float64
	At        time.Time
}

// Manager owns the global ceilings and delegates acquisition to named
// pools after checking them.
type Manager struct {
	limits Limits
	logger *zap.Logger

	mu               sync.Mutex
	pools            map[string]*pool.Pool
	caches           map[string]CacheSizer
	activeQueries    int
	activeStreamSubs int

	subscribers []func(PressureEvent)

	stopCh chan struct{}
	doneCh chan struct{}
}

func New(limits Limits, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		limits: limits,
		logger: logger,
		pools:  make(map[string]*pool.Pool),
		caches: make(map[string]CacheSizer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// RegisterPool adds a pool the manager will count against MaxConnections.
func (m *Manager) RegisterPool(name string, p *pool.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = p
}

// UnregisterPool removes a pool from ceiling accounting.
func (m *Manager) UnregisterPool(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, name)
}

// RegisterCache adds a cache the manager will count against
// MaxCacheSizeBytes and ask to shrink under pressure.
func (m *Manager) RegisterCache(name string, c CacheSizer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches[name] = c
}

// Acquire checks global ceilings before delegating to the named pool.
func (m *Manager) Acquire(ctx context.Context, poolName string, priority pool.Priority, timeout time.Duration) (*pool.Conn, error) {
	m.mu.Lock()
	p, ok := m.pools[poolName]
	if !ok {
		m.mu.Unlock()
		return nil, apperrors.NotFound(string(apperrors.CodeTierNotFound), "no pool registered as "+poolName).
			WithResource(poolName).
			Build()
	}
	totalActive := m.totalActiveLocked()
	m.mu.Unlock()

	if m.limits.MaxConnections > 0 && totalActive >= m.limits.MaxConnections {
		m.checkPressure()
		return nil, apperrors.Overloaded(string(apperrors.CodeOverloaded), "global connection ceiling reached").
			WithResource(poolName).
			WithRetryable(true).
			Build()
	}

	return p.Acquire(ctx, priority, timeout)
}

// Release returns a connection to its pool.
func (m *Manager) Release(poolName string, c *pool.Conn) {
	m.mu.Lock()
	p, ok := m.pools[poolName]
	m.mu.Unlock()
	if ok {
		p.Release(c)
	}
}

// AcquireQuerySlot reserves one of MaxConcurrentQueries. Callers must call
// the returned release function when the query completes.
func (m *Manager) AcquireQuerySlot() (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits.MaxConcurrentQueries > 0 && m.activeQueries >= m.limits.MaxConcurrentQueries {
		return nil, apperrors.Overloaded(string(apperrors.CodeOverloaded), "max concurrent queries reached").
			Build()
	}
	m.activeQueries++
	return func() {
		m.mu.Lock()
		m.activeQueries--
		m.mu.Unlock()
	}, nil
}

// AcquireStreamSlot reserves one of MaxStreamSubscriptions.
func (m *Manager) AcquireStreamSlot() (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits.MaxStreamSubscriptions > 0 && m.activeStreamSubs >= m.limits.MaxStreamSubscriptions {
		return nil, apperrors.Overloaded(string(apperrors.CodeOverloaded), "max stream subscriptions reached").
			Build()
	}
	m.activeStreamSubs++
	return func() {
		m.mu.Lock()
		m.activeStreamSubs--
		m.mu.Unlock()
	}, nil
}

func (m *Manager) totalActiveLocked() int {
	total := 0
	for _, p := range m.pools {
		s := p.Stats()
		total += s.Active
	}
	return total
}

// Usage is a point-in-time view of consumption against every ceiling.
type Usage struct {
	HeapAllocMB       int64
	MaxMemoryMB       int64
	Connections       int
	MaxConnections    int
	CacheBytes        int64
	MaxCacheSizeBytes int64
	ActiveQueries     int
	MaxQueries        int
	StreamSubs        int
	MaxStreamSubs     int
}

func (m *Manager) Usage() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()

	var cacheBytes int64
	for _, c := range m.caches {
		cacheBytes += c.SizeBytes()
	}

	return Usage{
		HeapAllocMB:       int64(ms.HeapAlloc / (1024 * 1024)),
		MaxMemoryMB:       m.limits.MaxMemoryMB,
		Connections:       m.totalActiveLocked(),
		MaxConnections:    m.limits.MaxConnections,
		CacheBytes:        cacheBytes,
		MaxCacheSizeBytes: m.limits.MaxCacheSizeBytes,
		ActiveQueries:     m.activeQueries,
		MaxQueries:        m.limits.MaxConcurrentQueries,
		StreamSubs:        m.activeStreamSubs,
		MaxStreamSubs:     m.limits.MaxStreamSubscriptions,
	}
}

// Statistics returns Usage today; kept as a separate name to match the
// operation named in the component design (usage() and statistics() are
// distinct calls there — here usage() is the instantaneous snapshot and
// statistics() is an alias kept for API symmetry with pool/cache stats()).
func (m *Manager) Statistics() Usage { return m.Usage() }

// Subscribe registers a callback invoked on every pressure event.
func (m *Manager) Subscribe(fn func(PressureEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Run starts the periodic pressure-check loop (every ~10s) until Shutdown
// is called.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	defer close(m.doneCh)

	for {
		select {
		case <-ticker.C:
			m.checkPressure()
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// checkPressure emits a pressure event when heap or connection usage
// crosses 80% of its ceiling, and asks registered caches to shrink.
func (m *Manager) checkPressure() {
	u := m.Usage()

	var events []PressureEvent
	if u.MaxMemoryMB > 0 && float64(u.HeapAllocMB)/float64(u.MaxMemoryMB) >= 0.8 {
		events = append(events, PressureEvent{Kind: "memory", UsageRate: float64(u.HeapAllocMB) / float64(u.MaxMemoryMB), At: time.Now()})
	}
	if u.MaxConnections > 0 && float64(u.Connections)/float64(u.MaxConnections) >= 0.8 {
		events = append(events, PressureEvent{Kind: "connections", UsageRate: float64(u.Connections) / float64(u.MaxConnections), At: time.Now()})
	}
	if len(events) == 0 {
		return
	}

	m.mu.Lock()
	subs := make([]func(PressureEvent), len(m.subscribers))
	copy(subs, m.subscribers)
	caches := make([]CacheSizer, 0, len(m.caches))
	for _, c := range m.caches {
		caches = append(caches, c)
	}
	m.mu.Unlock()

	for _, e := range events {
		m.logger.Warn("resource pressure detected", zap.String("kind", e.Kind), zap.Float64("usage_rate", e.UsageRate))
		for _, fn := range subs {
			fn(e)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range caches {
		c.ReducePressure(ctx)
	}
}

// Shutdown stops the periodic pressure-check loop.
func (m *Manager) Shutdown() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}
