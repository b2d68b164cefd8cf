// Package pool implements a bounded, priority-aware connection pool:
// acquire with priority and timeout, tag-indexed affinity lookup, health
// validation on both acquire and release, and a per-pool circuit breaker
// over connection creation.
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"heimdall-backend/internal/circuitbreaker"
	apperrors "heimdall-backend/internal/errors"
)

// Config carries the pool's tunables.
type Config struct {
	Name                 string
	MinSize              int
	MaxSize              int
	AcquireTimeout       time.Duration
	IdleValidationWindow time.Duration
}

// Pool is a bounded set of Resources behind a priority acquire/release API.
type Pool struct {
	cfg     Config
	factory Factory
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	idle     []*Conn
	tagIndex map[string]map[string]map[*Conn]struct{}
	waiters  *waitQueue
	seq      int64
	closed   bool
}

// New constructs a Pool. breaker guards connection creation; pass a
// breaker from a shared circuitbreaker.Registry keyed by the pool's name.
func New(cfg Config, factory Factory, breaker *circuitbreaker.Breaker, logger *zap.Logger) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		factory:  factory,
		breaker:  breaker,
		logger:   logger,
		conns:    make(map[*Conn]struct{}),
		tagIndex: make(map[string]map[string]map[*Conn]struct{}),
		waiters:  newWaitQueue(),
	}
}

// Acquire obtains an IDLE connection, validating it first, creating one if
// the pool has headroom, or waiting in the priority queue when at max_size.
func (p *Pool) Acquire(ctx context.Context, priority Priority, timeout time.Duration) (*Conn, error) {
	return p.acquire(ctx, priority, timeout, "", "")
}

// AcquireByTag prefers an idle connection tagged key=value (stateful
// affinity); it falls back to Acquire when none exists.
func (p *Pool) AcquireByTag(ctx context.Context, key, value string, priority Priority, timeout time.Duration) (*Conn, error) {
	return p.acquire(ctx, priority, timeout, key, value)
}

func (p *Pool) acquire(ctx context.Context, priority Priority, timeout time.Duration, tagKey, tagValue string) (*Conn, error) {
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, poolClosedErr(p.cfg.Name)
	}

	if tagKey != "" {
		if c := p.takeTaggedIdleLocked(tagKey, tagValue); c != nil {
			p.mu.Unlock()
			if ok := p.validateOrDestroy(ctx, c); ok {
				return c, nil
			}
			p.mu.Lock()
		}
	}

	for {
		if c := p.takeIdleLocked(); c != nil {
			p.mu.Unlock()
			if p.validateOrDestroy(ctx, c) {
				return c, nil
			}
			p.mu.Lock()
			continue
		}
		break
	}

	if len(p.conns) < p.cfg.MaxSize {
		p.mu.Unlock()
		c, err := p.create(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.conns[c] = struct{}{}
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		p.mu.Unlock()
		return c, nil
	}

	p.seq++
	w := &waiter{priority: priority, seq: p.seq, result: make(chan waitResult, 1)}
	p.waiters.push(w)
	p.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-w.result:
		return r.conn, r.err
	case <-timeoutCh:
		p.mu.Lock()
		p.waiters.remove(w)
		p.mu.Unlock()
		return nil, apperrors.Timeout(string(apperrors.CodeAcquireTimeout), "timed out acquiring connection from pool "+p.cfg.Name).
			WithResource(p.cfg.Name).
			WithRetryable(true).
			Build()
	case <-ctx.Done():
		p.mu.Lock()
		p.waiters.remove(w)
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// takeIdleLocked pops the most recently released idle connection. Caller
// holds p.mu.
func (p *Pool) takeIdleLocked() *Conn {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	c := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.removeFromTagIndexLocked(c)
	return c
}

func (p *Pool) takeTaggedIdleLocked(key, value string) *Conn {
	byVal := p.tagIndex[key]
	if byVal == nil {
		return nil
	}
	set := byVal[value]
	for c := range set {
		for i, idle := range p.idle {
			if idle == c {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				break
			}
		}
		p.removeFromTagIndexLocked(c)
		return c
	}
	return nil
}

// validateOrDestroy re-validates an idle connection pulled off the shelf.
// On failure it destroys the connection and returns false so the caller
// loops to try another idle connection or fall through to creation.
func (p *Pool) validateOrDestroy(ctx context.Context, c *Conn) bool {
	if err := c.validate(ctx, p.cfg.IdleValidationWindow); err != nil {
		p.destroy(c)
		return false
	}
	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()
	return true
}

func (p *Pool) create(ctx context.Context) (*Conn, error) {
	var resource Resource
	createErr := func() error {
		if p.breaker == nil {
			r, err := p.factory(ctx)
			if err != nil {
				return err
			}
			resource = r
			return nil
		}
		return p.breaker.Execute(func() error {
			r, err := p.factory(ctx)
			if err != nil {
				return err
			}
			resource = r
			return nil
		})
	}()
	if createErr != nil {
		return nil, createErr
	}
	return newConn(resource), nil
}

// Release marks a connection IDLE after re-validation, handing it directly
// to the highest-priority waiter if one is parked, or returning it to the
// idle shelf otherwise. An invalid connection is destroyed and, if the
// pool has dropped under min_size, a replacement is spawned in the
// background.
func (p *Pool) Release(c *Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.validate(ctx, 0); err != nil {
		p.destroy(c)
		p.maybeReplenish()
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.destroyResource(c)
		return
	}

	for {
		w := p.waiters.pop()
		if w == nil {
			break
		}
		c.mu.Lock()
		c.state = StateActive
		c.mu.Unlock()
		p.mu.Unlock()
		select {
		case w.result <- waitResult{conn: c}:
			return
		default:
		}
		p.mu.Lock()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	p.idle = append(p.idle, c)
	p.indexTagsLocked(c)
	p.mu.Unlock()
}

// SetTag attaches key=value to c, updating the pool's inverse tag index.
func (p *Pool) SetTag(c *Conn, key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeFromTagIndexLocked(c)
	c.mu.Lock()
	c.tags[key] = value
	isIdle := c.state == StateIdle
	c.mu.Unlock()
	if isIdle {
		p.indexOneTagLocked(c, key, value)
	}
}

// RemoveTag detaches key from c.
func (p *Pool) RemoveTag(c *Conn, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c.mu.Lock()
	delete(c.tags, key)
	c.mu.Unlock()

	if byVal, ok := p.tagIndex[key]; ok {
		for _, set := range byVal {
			delete(set, c)
		}
	}
}

func (p *Pool) indexTagsLocked(c *Conn) {
	c.mu.Lock()
	tags := make(map[string]string, len(c.tags))
	for k, v := range c.tags {
		tags[k] = v
	}
	c.mu.Unlock()
	for k, v := range tags {
		p.indexOneTagLocked(c, k, v)
	}
}

func (p *Pool) indexOneTagLocked(c *Conn, key, value string) {
	byVal, ok := p.tagIndex[key]
	if !ok {
		byVal = make(map[string]map[*Conn]struct{})
		p.tagIndex[key] = byVal
	}
	set, ok := byVal[value]
	if !ok {
		set = make(map[*Conn]struct{})
		byVal[value] = set
	}
	set[c] = struct{}{}
}

func (p *Pool) removeFromTagIndexLocked(c *Conn) {
	c.mu.Lock()
	tags := make(map[string]string, len(c.tags))
	for k, v := range c.tags {
		tags[k] = v
	}
	c.mu.Unlock()
	for k, v := range tags {
		if byVal, ok := p.tagIndex[k]; ok {
			if set, ok := byVal[v]; ok {
				delete(set, c)
			}
		}
	}
}

func (p *Pool) destroy(c *Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.removeFromTagIndexLocked(c)
	p.mu.Unlock()

	c.mu.Lock()
	c.state = StateDestroying
	c.mu.Unlock()
	p.destroyResource(c)
}

func (p *Pool) destroyResource(c *Conn) {
	if err := c.resource.Close(); err != nil {
		p.logger.Warn("error closing pooled resource", zap.String("pool", p.cfg.Name), zap.Error(err))
	}
}

// maybeReplenish spawns a replacement connection in the background if the
// pool has fallen under min_size. Best-effort: a failure is logged, not
// propagated (there is no waiter to propagate it to).
func (p *Pool) maybeReplenish() {
	p.mu.Lock()
	below := len(p.conns) < p.cfg.MinSize
	closed := p.closed
	p.mu.Unlock()
	if !below || closed {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		c, err := p.create(ctx)
		if err != nil {
			p.logger.Warn("failed to replenish pool below min_size", zap.String("pool", p.cfg.Name), zap.Error(err))
			return
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.destroyResource(c)
			return
		}
		p.conns[c] = struct{}{}
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}()
}

// Close transitions the pool to closed: pending waiters receive
// POOL_CLOSED, and every connection is destroyed concurrently.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for {
		w := p.waiters.pop()
		if w == nil {
			break
		}
		select {
		case w.result <- waitResult{err: poolClosedErr(p.cfg.Name)}:
		default:
		}
	}

	all := make([]*Conn, 0, len(p.conns))
	for c := range p.conns {
		all = append(all, c)
	}
	p.conns = make(map[*Conn]struct{})
	p.idle = nil
	p.tagIndex = make(map[string]map[string]map[*Conn]struct{})
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range all {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.mu.Lock()
			c.state = StateDestroying
			c.mu.Unlock()
			p.destroyResource(c)
		}(c)
	}
	wg.Wait()
}

// Stats is a point-in-time usage snapshot.
type Stats struct {
	Name        string
	Size        int
	Idle        int
	Active      int
	WaitersSize int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:        p.cfg.Name,
		Size:        len(p.conns),
		Idle:        len(p.idle),
		Active:      len(p.conns) - len(p.idle),
		WaitersSize: p.waiters.len(),
	}
}

func poolClosedErr(name string) error {
	return apperrors.Conflict(string(apperrors.CodePoolClosed), "pool "+name+" is closed").
		WithResource(name).
		WithRetryable(false).
		Build()
}
