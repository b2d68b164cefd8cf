package resourcemgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heimdall-backend/internal/pool"
)

type fakeResource struct{ valid bool }

func (r *fakeResource) Validate(ctx context.Context) error {
	if !r.valid {
		return errors.New("invalid")
	}
	return nil
}
func (r *fakeResource) Close() error { return nil }

func newTestPool(name string, max int) *pool.Pool {
	factory := func(ctx context.Context) (pool.Resource, error) {
		return &fakeResource{valid: true}, nil
	}
	return pool.New(pool.Config{Name: name, MaxSize: max, AcquireTimeout: time.Second}, factory, nil, zap.NewNop())
}

func TestManager_AcquireDelegatesToNamedPool(t *testing.T) {
	// Arrange
	m := New(Limits{MaxConnections: 10}, zap.NewNop())
	p := newTestPool("hot", 2)
	m.RegisterPool("hot", p)

	// Act
	c, err := m.Acquire(context.Background(), "hot", pool.Normal, time.Second)

	// Assert
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestManager_AcquireFailsForUnknownPool(t *testing.T) {
	// Arrange
	m := New(Limits{}, zap.NewNop())

	// Act
	_, err := m.Acquire(context.Background(), "nonexistent", pool.Normal, time.Second)

	// Assert
	assert.Error(t, err)
}

func TestManager_AcquireRejectsWhenGlobalCeilingReached(t *testing.T) {
	// Arrange
	m := New(Limits{MaxConnections: 1}, zap.NewNop())
	p := newTestPool("hot", 5)
	m.RegisterPool("hot", p)
	_, err := m.Acquire(context.Background(), "hot", pool.Normal, time.Second)
	require.NoError(t, err)

	// Act
	_, err = m.Acquire(context.Background(), "hot", pool.Normal, time.Second)

	// Assert
	assert.Error(t, err)
}

func TestManager_QuerySlotCeiling(t *testing.T) {
	// Arrange
	m := New(Limits{MaxConcurrentQueries: 1}, zap.NewNop())
	release, err := m.AcquireQuerySlot()
	require.NoError(t, err)

	// Act
	_, err = m.AcquireQuerySlot()

	// Assert
	assert.Error(t, err)

	// release and retry
	release()
	_, err = m.AcquireQuerySlot()
	assert.NoError(t, err)
}

type fakeCache struct {
	bytes   int64
	reduced bool
}

func (c *fakeCache) SizeBytes() int64 { return c.bytes }
func (c *fakeCache) ReducePressure(ctx context.Context) {
	c.reduced = true
}

func TestManager_PressureEventNotifiesSubscribersAndCaches(t *testing.T) {
	// Arrange
	m := New(Limits{MaxMemoryMB: 1}, zap.NewNop()) // trivially small ceiling so heap usage trips it
	cache := &fakeCache{bytes: 10}
	m.RegisterCache("query", cache)

	var notified bool
	m.Subscribe(func(e PressureEvent) {
		if e.Kind == "memory" {
			notified = true
		}
	})

	// Act
	m.checkPressure()

	// Assert
	assert.True(t, notified)
	assert.True(t, cache.reduced)
}
