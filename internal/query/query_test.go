package query

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/ml"
	"heimdall-backend/internal/storage"
)

type fakeStorage struct {
	calls   atomic.Int32
	failN   int32 // fail this many calls before succeeding
	result  *storage.QueryResult
	err     error
}

func (f *fakeStorage) Query(ctx context.Context, q logentry.Query) (*storage.QueryResult, error) {
	n := f.calls.Add(1)
	if n <= f.failN {
		return nil, f.err
	}
	return f.result, nil
}

func testCache() *cache.Cache {
	return cache.New(cache.Config{MaxBytes: 100_000, L1Ratio: 0.3, CompressionThresholdBytes: 1024, TTL: time.Minute}, zap.NewNop())
}

func sampleQuery() logentry.Query {
	return logentry.Query{TimeRange: logentry.TimeRange{From: time.Now().Add(-time.Hour), To: time.Now()}}
}

func TestService_QueryRejectsInvertedTimeRange(t *testing.T) {
	// Arrange
	svc := New(&fakeStorage{}, nil, nil, zap.NewNop())
	q := logentry.Query{TimeRange: logentry.TimeRange{From: time.Now(), To: time.Now().Add(-time.Hour)}}

	// Act
	_, err := svc.Query(context.Background(), q)

	// Assert
	require.Error(t, err)
}

func TestService_QueryServesFromCacheOnHit(t *testing.T) {
	// Arrange
	c := testCache()
	st := &fakeStorage{result: &storage.QueryResult{Entries: []*logentry.LogEntry{{}}}}
	svc := New(st, c, nil, zap.NewNop())
	q := sampleQuery()

	// Act: first call misses and populates the cache, second call hits
	_, err := svc.Query(context.Background(), q)
	require.NoError(t, err)
	result, err := svc.Query(context.Background(), q)
	require.NoError(t, err)

	// Assert
	assert.True(t, result.Performance.CacheHit)
	assert.Equal(t, int32(1), st.calls.Load())
}

func TestService_BypassStrategySkipsCacheEntirely(t *testing.T) {
	// Arrange
	c := testCache()
	st := &fakeStorage{result: &storage.QueryResult{}}
	svc := New(st, c, nil, zap.NewNop())
	q := sampleQuery()
	q.Hints.CacheStrategy = logentry.CacheBypass

	// Act
	_, err := svc.Query(context.Background(), q)
	require.NoError(t, err)
	_, err = svc.Query(context.Background(), q)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, int32(2), st.calls.Load())
}

func TestService_QueryRetriesOnStorageFailure(t *testing.T) {
	// Arrange
	svc := New(&fakeStorage{failN: 1, result: &storage.QueryResult{}}, nil, nil, zap.NewNop())
	svc.retryBackoff = time.Millisecond
	q := sampleQuery()

	// Act
	result, err := svc.Query(context.Background(), q)

	// Assert
	require.NoError(t, err)
	assert.NotNil(t, result)
}

func TestService_AppendsMLInsightsWhenRequested(t *testing.T) {
	// Arrange
	hook := ml.NewMockHook()
	st := &fakeStorage{result: &storage.QueryResult{Entries: []*logentry.LogEntry{{Message: logentry.Message{Raw: "connection refused"}, Level: logentry.LevelError}}}}
	svc := New(st, nil, hook, zap.NewNop())
	q := sampleQuery()
	q.MLFeatures = []string{"anomaly"}

	// Act
	result, err := svc.Query(context.Background(), q)

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, result.Insights)
}
