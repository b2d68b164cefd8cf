package bus

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
)

type fakePublisher struct {
	fail atomic.Bool
	got  [][]*logentry.LogEntry
}

func (f *fakePublisher) Publish(ctx context.Context, entries []*logentry.LogEntry) error {
	if f.fail.Load() {
		return assert.AnError
	}
	f.got = append(f.got, entries)
	return nil
}
func (f *fakePublisher) Close() error { return nil }

func batch(n int) []*logentry.LogEntry {
	out := make([]*logentry.LogEntry, n)
	for i := range out {
		out[i] = &logentry.LogEntry{ID: uuid.New()}
	}
	return out
}

func TestDeadLetterPublisher_QueuesOnFailureAndRetries(t *testing.T) {
	// Arrange
	inner := &fakePublisher{}
	inner.fail.Store(true)
	dlq := NewDeadLetterPublisher(inner, 10, zap.NewNop())

	// Act: publish fails, batch is queued rather than lost
	err := dlq.Publish(context.Background(), batch(3))

	// Assert
	require.Error(t, err)
	assert.Equal(t, 1, dlq.QueueDepth())

	// Act: bus recovers, retry drains the queue
	inner.fail.Store(false)
	succeeded, remaining := dlq.Retry(context.Background())

	// Assert
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, dlq.QueueDepth())
	assert.Len(t, inner.got, 1)
}

func TestDeadLetterPublisher_DropsOldestWhenFull(t *testing.T) {
	// Arrange
	inner := &fakePublisher{}
	inner.fail.Store(true)
	dlq := NewDeadLetterPublisher(inner, 2, zap.NewNop())

	// Act
	_ = dlq.Publish(context.Background(), batch(1))
	_ = dlq.Publish(context.Background(), batch(1))
	_ = dlq.Publish(context.Background(), batch(1))

	// Assert: queue never exceeds its bound
	assert.Equal(t, 2, dlq.QueueDepth())
}
