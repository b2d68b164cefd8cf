package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/circuitbreaker"
	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/storage"
	"heimdall-backend/internal/storage/storagetest"
)

type fakeDispatcher struct {
	calls atomic.Int32
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, entries []*logentry.LogEntry) error {
	f.calls.Add(1)
	return nil
}

func newTestPipeline(t *testing.T, batchSize int, flushInterval time.Duration) (*Pipeline, *storagetest.MockAdapter, *fakeDispatcher) {
	hot := storagetest.New(storage.TierHot, storage.CapSearch)
	mgr := storage.NewManager(storage.ManagerConfig{HotRetention: time.Hour}, zap.NewNop())
	mgr.RegisterTier(hot)

	dispatch := &fakeDispatcher{}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), zap.NewNop())

	p := New(Config{BatchSize: batchSize, FlushInterval: flushInterval, MaxMessageLen: 1024}, mgr, nil, dispatch, nil, nil, breakers, zap.NewNop())
	return p, hot, dispatch
}

func sampleEntry() *logentry.LogEntry {
	return &logentry.LogEntry{
		Level:   logentry.LevelInfo,
		Source:  logentry.Source{Service: "auth"},
		Message: logentry.Message{Raw: "hello world"},
	}
}

func TestPipeline_RejectsInvalidEntryWithoutBuffering(t *testing.T) {
	// Arrange
	p, _, _ := newTestPipeline(t, 10, time.Hour)
	bad := &logentry.LogEntry{} // missing source.service and message.raw

	// Act
	result, err := p.IngestBatch(context.Background(), []*logentry.LogEntry{bad})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Errors[0].Index)
}

func TestPipeline_FlushesOnBatchSizeAndWritesToStorage(t *testing.T) {
	// Arrange
	p, hot, dispatch := newTestPipeline(t, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Stop()

	// Act: two entries hit the batch_size threshold and trigger a flush
	_, err := p.IngestBatch(context.Background(), []*logentry.LogEntry{sampleEntry(), sampleEntry()})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(hot.Entries()) == 2
	}, time.Second, 10*time.Millisecond)

	// Assert
	assert.Equal(t, int32(1), dispatch.calls.Load())
}

func TestPipeline_FlushesOnIntervalWhenUnderBatchSize(t *testing.T) {
	// Arrange
	p, hot, _ := newTestPipeline(t, 100, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	defer p.Stop()

	// Act
	_, err := p.IngestBatch(context.Background(), []*logentry.LogEntry{sampleEntry()})
	require.NoError(t, err)

	// Assert: flush_interval fires even though batch_size was never reached
	require.Eventually(t, func() bool {
		return len(hot.Entries()) == 1
	}, time.Second, 10*time.Millisecond)
}
