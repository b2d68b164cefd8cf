package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/pool"
	"heimdall-backend/internal/storage"
)

func testCache() *Cache {
	return New(Config{
		MaxBytes:                  10_000,
		L1Ratio:                   0.3,
		CompressionThresholdBytes: 50,
		TTL:                       time.Minute,
		AggressiveTTL:             10 * time.Minute,
		CleanupInterval:           time.Second,
	}, zap.NewNop())
}

func sampleQuery(service string) logentry.Query {
	return logentry.Query{
		Sources:   []string{service},
		TimeRange: logentry.TimeRange{From: time.Now().Add(-30 * time.Minute), To: time.Now()},
	}
}

func TestCache_SetThenGetReturnsSameResult(t *testing.T) {
	// Arrange
	c := testCache()
	q := sampleQuery("auth")
	result := &storage.QueryResult{TookMs: 12}

	// Act
	err := c.Set(context.Background(), q, result, SetOptions{Priority: pool.Normal})
	got, ok := c.Get(context.Background(), q)

	// Assert
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result.TookMs, got.TookMs)
}

func TestCache_HighPriorityEntryPlacedInL1(t *testing.T) {
	// Arrange
	c := testCache()
	q := sampleQuery("auth")

	// Act
	_ = c.Set(context.Background(), q, &storage.QueryResult{}, SetOptions{Priority: pool.High})

	// Assert
	c.mu.RLock()
	e := c.entries[q.Fingerprint()]
	c.mu.RUnlock()
	require.NotNil(t, e)
	assert.Equal(t, levelL1, e.level)
}

func TestCache_BypassStrategyIsNotCached(t *testing.T) {
	// Arrange
	c := testCache()
	q := sampleQuery("auth")
	q.Hints.CacheStrategy = logentry.CacheBypass

	// Act
	err := c.Set(context.Background(), q, &storage.QueryResult{}, SetOptions{})
	_, ok := c.Get(context.Background(), q)

	// Assert
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_InvalidateByTagsRemovesMatchingEntries(t *testing.T) {
	// Arrange
	c := testCache()
	authQ := sampleQuery("auth")
	billingQ := sampleQuery("billing")
	_ = c.Set(context.Background(), authQ, &storage.QueryResult{}, SetOptions{})
	_ = c.Set(context.Background(), billingQ, &storage.QueryResult{}, SetOptions{})

	// Act
	removed := c.InvalidateByTags(ServiceTag("auth"))
	_, authOK := c.Get(context.Background(), authQ)
	_, billingOK := c.Get(context.Background(), billingQ)

	// Assert
	assert.Equal(t, 1, removed)
	assert.False(t, authOK)
	assert.True(t, billingOK)
}

func TestCache_EvictsLowestPriorityOldestFirst(t *testing.T) {
	// Arrange: tiny budget forces eviction
	c := New(Config{MaxBytes: 300, L1Ratio: 0.3, CompressionThresholdBytes: 10, TTL: time.Minute}, zap.NewNop())

	low := sampleQuery("low-svc")
	high := sampleQuery("high-svc")
	_ = c.Set(context.Background(), low, &storage.QueryResult{TookMs: 1}, SetOptions{Priority: pool.Low})
	_ = c.Set(context.Background(), high, &storage.QueryResult{TookMs: 2}, SetOptions{Priority: pool.Critical})

	// Act: add enough entries to force eviction under the tiny budget
	for i := 0; i < 5; i++ {
		q := sampleQuery("filler")
		q.NaturalLanguage = string(rune('a' + i))
		_ = c.Set(context.Background(), q, &storage.QueryResult{TookMs: int64(i)}, SetOptions{Priority: pool.Normal})
	}

	// Assert: the low-priority entry is gone, the critical one survives
	_, lowOK := c.Get(context.Background(), low)
	_, highOK := c.Get(context.Background(), high)
	assert.False(t, lowOK)
	assert.True(t, highOK)
}

func TestCache_StatsReflectHitsAndMisses(t *testing.T) {
	// Arrange
	c := testCache()
	q := sampleQuery("auth")
	_ = c.Set(context.Background(), q, &storage.QueryResult{}, SetOptions{})

	// Act
	c.Get(context.Background(), q)
	c.Get(context.Background(), sampleQuery("nonexistent"))
	stats := c.Stats()

	// Assert
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}
