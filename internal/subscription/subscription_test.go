package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
)

func testManager() *Manager {
	return New(Config{DefaultBufferSize: 4, MaxIdle: time.Hour, ExpiryCheckInterval: time.Hour}, zap.NewNop())
}

func entryFor(service string, level logentry.Level) *logentry.LogEntry {
	return &logentry.LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Source:    logentry.Source{Service: service},
		Message:   logentry.Message{Raw: "hi"},
	}
}

func TestManager_DispatchDeliversOnlyMatchingEntries(t *testing.T) {
	// Arrange
	m := testManager()
	var mu sync.Mutex
	var received []*logentry.LogEntry
	_, err := m.Subscribe(context.Background(), logentry.Query{Sources: []string{"auth"}}, Options{}, func(ctx context.Context, entries []*logentry.LogEntry) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, entries...)
		return nil
	})
	require.NoError(t, err)

	// Act
	err = m.Dispatch(context.Background(), []*logentry.LogEntry{
		entryFor("auth", logentry.LevelInfo),
		entryFor("billing", logentry.LevelInfo),
	})
	require.NoError(t, err)

	// Assert
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "auth", received[0].Source.Service)
	mu.Unlock()
}

func TestManager_UnsubscribeStopsFurtherDelivery(t *testing.T) {
	// Arrange
	m := testManager()
	var calls int
	var mu sync.Mutex
	id, err := m.Subscribe(context.Background(), logentry.Query{Sources: []string{"auth"}}, Options{}, func(ctx context.Context, entries []*logentry.LogEntry) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// Act
	m.Unsubscribe(id)
	_ = m.Dispatch(context.Background(), []*logentry.LogEntry{entryFor("auth", logentry.LevelInfo)})
	time.Sleep(20 * time.Millisecond)

	// Assert
	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()
	assert.Equal(t, 0, m.Count())
}

func TestManager_DropOldestOverflowKeepsNewestBatch(t *testing.T) {
	// Arrange: a deliver callback that blocks so the queue backs up
	m := testManager()
	release := make(chan struct{})
	var delivered [][]*logentry.LogEntry
	var mu sync.Mutex
	_, err := m.Subscribe(context.Background(), logentry.Query{}, Options{BufferSize: 1, OnOverflow: OverflowDropOldest}, func(ctx context.Context, entries []*logentry.LogEntry) error {
		<-release
		mu.Lock()
		delivered = append(delivered, entries)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// Act: first batch is picked up by the delivery goroutine and blocks on
	// release; subsequent batches queue up and the overflow policy keeps
	// only the newest.
	time.Sleep(10 * time.Millisecond)
	_ = m.Dispatch(context.Background(), []*logentry.LogEntry{entryFor("a", logentry.LevelInfo)})
	time.Sleep(10 * time.Millisecond)
	_ = m.Dispatch(context.Background(), []*logentry.LogEntry{entryFor("b", logentry.LevelInfo)})
	_ = m.Dispatch(context.Background(), []*logentry.LogEntry{entryFor("c", logentry.LevelInfo)})
	close(release)

	// Assert: first delivered batch is "a" (already in flight when b/c queued);
	// "b" was dropped to make room for "c", the newest batch
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "a", delivered[0][0].Source.Service)
	assert.Equal(t, "c", delivered[1][0].Source.Service)
	mu.Unlock()
}

func TestManager_ExpireIdleCancelsStaleSubscriptions(t *testing.T) {
	// Arrange
	m := New(Config{DefaultBufferSize: 4, MaxIdle: time.Millisecond, ExpiryCheckInterval: time.Hour}, zap.NewNop())
	_, err := m.Subscribe(context.Background(), logentry.Query{}, Options{}, func(ctx context.Context, entries []*logentry.LogEntry) error { return nil })
	require.NoError(t, err)

	// Act
	time.Sleep(5 * time.Millisecond)
	expired := m.ExpireIdle(time.Now())

	// Assert
	assert.Equal(t, 1, expired)
	assert.Equal(t, 0, m.Count())
}
