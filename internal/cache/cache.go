// Package cache implements the two-level (L1 full-fidelity / L2 compressed)
// query result cache described in §4.6: fingerprint-keyed lookup, a shared
// priority/recency eviction pool across both levels, tag-based invalidation,
// and a background TTL sweep.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/pool"
	"heimdall-backend/internal/storage"
)

// Config carries the CACHE_* tunables (§6).
type Config struct {
	MaxBytes                 int64
	L1Ratio                  float64
	CompressionThresholdBytes int64
	TTL                      time.Duration
	AggressiveTTL            time.Duration
	CleanupInterval          time.Duration
}

// SetOptions parameterizes a Set call per §4.6's `{priority, tags, ttl}`.
type SetOptions struct {
	Priority pool.Priority
	Tags     []string
	TTL      time.Duration // zero means use Config.TTL
}

type level int

const (
	levelL1 level = iota
	levelL2
)

type entry struct {
	key          string
	level        level
	raw          []byte // uncompressed JSON, populated for L1 entries
	compressed   []byte // L2 payload: gzip JSON when rawSize exceeds the compression threshold, raw JSON otherwise
	rawSize      int64  // uncompressed size, used for placement/budget decisions
	storedSize   int64  // actual bytes counted against max_bytes (compressed size for L2)
	priority     pool.Priority
	tags         []string
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	expiresAt    time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Stats mirrors §4.6's reported counters plus their derived rates.
type Stats struct {
	Hits                   int64
	Misses                 int64
	L1Hits                 int64
	L2Hits                 int64
	Evictions              int64
	CompressionSavingsBytes int64
	EntryCount             int
	TotalBytes             int64
	HitRate                float64
	L1HitRate              float64
	L2HitRate              float64
}

// Cache is the two-level query result cache.
type Cache struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	tagIdx  map[string]map[string]struct{}

	l1Bytes int64
	l2Bytes int64

	hits, misses, l1Hits, l2Hits, evictions int64
	compressionSavings                      int64

	stopCh chan struct{}
}

func New(cfg Config, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.L1Ratio <= 0 {
		cfg.L1Ratio = 0.3
	}
	return &Cache{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
		tagIdx:  make(map[string]map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Get looks up L1 first, then L2 on miss; an L2 hit is decompressed and,
// if it still qualifies for L1 placement, promoted.
func (c *Cache) Get(ctx context.Context, q logentry.Query) (*storage.QueryResult, bool) {
	key := q.Fingerprint()
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(now) {
		if ok {
			c.removeLocked(e)
		}
		c.misses++
		return nil, false
	}

	e.lastAccessed = now
	e.accessCount++
	c.hits++

	if e.level == levelL1 {
		c.l1Hits++
		var result storage.QueryResult
		if err := json.Unmarshal(e.raw, &result); err != nil {
			return nil, false
		}
		return &result, true
	}

	c.l2Hits++
	raw := e.compressed
	if e.rawSize > c.cfg.CompressionThresholdBytes {
		var err error
		raw, err = gunzip(e.compressed)
		if err != nil {
			c.logger.Warn("failed to decompress L2 cache entry", zap.Error(err))
			return nil, false
		}
	}
	var result storage.QueryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}

	if c.qualifiesForL1Locked(int64(len(raw)), e.priority, e.accessCount) {
		c.promoteToL1Locked(e, raw)
	}
	return &result, true
}

// Set stores a query result under its fingerprint, applying the
// placement rules from §4.6.
func (c *Cache) Set(ctx context.Context, q logentry.Query, result *storage.QueryResult, opts SetOptions) error {
	ttl := c.ttlFor(q, opts)
	if ttl <= 0 {
		return nil // bypass: not cached
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	size := int64(len(raw))
	key := q.Fingerprint()
	tags := append(deriveTags(q), opts.Tags...)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	c.reserveLocked(size)

	e := &entry{
		key:          key,
		priority:     opts.Priority,
		tags:         tags,
		createdAt:    now,
		lastAccessed: now,
		accessCount:  1,
		expiresAt:    now.Add(ttl),
	}

	if c.qualifiesForL1Locked(size, opts.Priority, 1) {
		e.level = levelL1
		e.raw = raw
		e.rawSize = size
		e.storedSize = size
		c.l1Bytes += size
	} else {
		e.level = levelL2
		compressed := raw
		if size > c.cfg.CompressionThresholdBytes {
			compressed, err = gzipBytes(raw)
			if err != nil {
				return err
			}
			c.compressionSavings += size - int64(len(compressed))
		}
		e.compressed = compressed
		e.rawSize = size
		e.storedSize = int64(len(compressed))
		c.l2Bytes += e.storedSize
	}

	c.entries[key] = e
	c.indexTagsLocked(e)
	return nil
}

func (c *Cache) ttlFor(q logentry.Query, opts SetOptions) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	switch q.Hints.CacheStrategy {
	case logentry.CacheBypass:
		return 0
	case logentry.CacheAggressive:
		return c.cfg.AggressiveTTL
	default:
		return c.cfg.TTL
	}
}

// qualifiesForL1Locked implements: priority >= HIGH OR access_count > 3 OR
// (size < compression_threshold AND L1 would remain under budget).
func (c *Cache) qualifiesForL1Locked(size int64, priority pool.Priority, accessCount int64) bool {
	if priority >= pool.High {
		return true
	}
	if accessCount > 3 {
		return true
	}
	if size < c.cfg.CompressionThresholdBytes && c.l1Bytes+size <= c.l1Budget() {
		return true
	}
	return false
}

func (c *Cache) l1Budget() int64 {
	return int64(float64(c.cfg.MaxBytes) * c.cfg.L1Ratio)
}

func (c *Cache) promoteToL1Locked(e *entry, raw []byte) {
	size := int64(len(raw))
	c.reserveLocked(size)
	if e.level == levelL2 {
		c.l2Bytes -= e.storedSize
	}
	e.level = levelL1
	e.raw = raw
	e.compressed = nil
	e.rawSize = size
	e.storedSize = size
	c.l1Bytes += size
}

// reserveLocked evicts entries, lowest (priority, last_accessed) first,
// across the shared L1/L2 pool until there is room for `size` more bytes.
func (c *Cache) reserveLocked(size int64) {
	for c.totalBytesLocked()+size > c.cfg.MaxBytes && len(c.entries) > 0 {
		candidates := make([]*entry, 0, len(c.entries))
		for _, e := range c.entries {
			candidates = append(candidates, e)
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].priority != candidates[j].priority {
				return candidates[i].priority < candidates[j].priority
			}
			return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
		})
		c.removeLocked(candidates[0])
		c.evictions++
	}
}

func (c *Cache) totalBytesLocked() int64 {
	return c.l1Bytes + c.l2Bytes
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	for _, tag := range e.tags {
		if set, ok := c.tagIdx[tag]; ok {
			delete(set, e.key)
			if len(set) == 0 {
				delete(c.tagIdx, tag)
			}
		}
	}
	if e.level == levelL1 {
		c.l1Bytes -= e.storedSize
	} else {
		c.l2Bytes -= e.storedSize
	}
}

func (c *Cache) indexTagsLocked(e *entry) {
	for _, tag := range e.tags {
		set, ok := c.tagIdx[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tagIdx[tag] = set
		}
		set[e.key] = struct{}{}
	}
}

// InvalidateByTags drops every entry carrying any of the given tags.
func (c *Cache) InvalidateByTags(tags ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	toRemove := make(map[string]*entry)
	for _, tag := range tags {
		for key := range c.tagIdx[tag] {
			if e, ok := c.entries[key]; ok {
				toRemove[key] = e
			}
		}
	}
	for _, e := range toRemove {
		c.removeLocked(e)
	}
	return len(toRemove)
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.tagIdx = make(map[string]map[string]struct{})
	c.l1Bytes, c.l2Bytes = 0, 0
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Hits:                    c.hits,
		Misses:                  c.misses,
		L1Hits:                  c.l1Hits,
		L2Hits:                  c.l2Hits,
		Evictions:               c.evictions,
		CompressionSavingsBytes: c.compressionSavings,
		EntryCount:              len(c.entries),
		TotalBytes:              c.l1Bytes + c.l2Bytes,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if total := s.L1Hits + s.Misses; total > 0 {
		s.L1HitRate = float64(s.L1Hits) / float64(total)
	}
	if total := s.L2Hits + s.Misses; total > 0 {
		s.L2HitRate = float64(s.L2Hits) / float64(total)
	}
	return s
}

// SizeBytes implements resourcemgr.CacheSizer.
func (c *Cache) SizeBytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.l1Bytes + c.l2Bytes
}

// ReducePressure implements resourcemgr.CacheSizer by evicting down to
// half of max_bytes when the resource manager signals memory pressure.
func (c *Cache) ReducePressure(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.cfg.MaxBytes / 2
	for c.totalBytesLocked() > target && len(c.entries) > 0 {
		candidates := make([]*entry, 0, len(c.entries))
		for _, e := range c.entries {
			candidates = append(candidates, e)
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].priority != candidates[j].priority {
				return candidates[i].priority < candidates[j].priority
			}
			return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
		})
		c.removeLocked(candidates[0])
		c.evictions++
	}
}

// Run sweeps expired entries every cleanup_interval until ctx is done or
// Stop is called.
func (c *Cache) Run(ctx context.Context) {
	interval := c.cfg.CleanupInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(e)
		}
	}
}

func (c *Cache) Stop() {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(compressed []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
