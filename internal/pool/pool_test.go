package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeResource struct {
	id        int64
	valid     atomic.Bool
	closed    atomic.Bool
	validateN atomic.Int32
}

func (r *fakeResource) Validate(ctx context.Context) error {
	r.validateN.Add(1)
	if !r.valid.Load() {
		return errors.New("invalid")
	}
	return nil
}

func (r *fakeResource) Close() error {
	r.closed.Store(true)
	return nil
}

func newFakeFactory() (Factory, *int64) {
	var created int64
	f := func(ctx context.Context) (Resource, error) {
		id := atomic.AddInt64(&created, 1)
		r := &fakeResource{id: id}
		r.valid.Store(true)
		return r, nil
	}
	return f, &created
}

func newTestPool(t *testing.T, maxSize int) (*Pool, *int64) {
	factory, created := newFakeFactory()
	p := New(Config{
		Name:                 "test",
		MinSize:              0,
		MaxSize:              maxSize,
		AcquireTimeout:       time.Second,
		IdleValidationWindow: time.Minute,
	}, factory, nil, zap.NewNop())
	return p, created
}

func TestPool_AcquireCreatesUpToMaxSize(t *testing.T) {
	// Arrange
	p, created := newTestPool(t, 2)

	// Act
	c1, err1 := p.Acquire(context.Background(), Normal, time.Second)
	c2, err2 := p.Acquire(context.Background(), Normal, time.Second)

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.NotNil(t, c1)
	assert.NotNil(t, c2)
	assert.Equal(t, int64(2), atomic.LoadInt64(created))
}

func TestPool_AcquireTimesOutAtMaxSize(t *testing.T) {
	// Arrange
	p, _ := newTestPool(t, 1)
	c1, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)
	_ = c1

	// Act
	_, err = p.Acquire(context.Background(), Normal, 20*time.Millisecond)

	// Assert
	assert.Error(t, err)
}

func TestPool_ReleaseMakesConnectionReusable(t *testing.T) {
	// Arrange
	p, created := newTestPool(t, 1)
	c1, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)

	// Act
	p.Release(c1)
	c2, err := p.Acquire(context.Background(), Normal, time.Second)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(created), "second acquire should reuse the released connection")
	assert.Same(t, c1, c2)
}

func TestPool_PriorityWaiterServedBeforeLowerPriority(t *testing.T) {
	// Arrange
	p, _ := newTestPool(t, 1)
	c1, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := p.Acquire(context.Background(), Low, 2*time.Second)
		if err == nil {
			mu.Lock()
			order = append(order, "low")
			mu.Unlock()
		}
	}()
	time.Sleep(20 * time.Millisecond) // ensure low enqueues first
	go func() {
		defer wg.Done()
		_, err := p.Acquire(context.Background(), Critical, 2*time.Second)
		if err == nil {
			mu.Lock()
			order = append(order, "critical")
			mu.Unlock()
		}
	}()
	time.Sleep(20 * time.Millisecond)

	// Act: release the only connection — the critical waiter, though it
	// arrived second, must be served first.
	p.Release(c1)
	wg.Wait()

	// Assert
	require.Len(t, order, 1, "only one waiter can be served by a single released connection")
	assert.Equal(t, "critical", order[0])
}

func TestPool_InvalidConnectionIsDestroyedNotReused(t *testing.T) {
	// Arrange
	p, created := newTestPool(t, 1)
	c1, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)
	c1.resource.(*fakeResource).valid.Store(false)

	// Act
	p.Release(c1)
	c2, err := p.Acquire(context.Background(), Normal, time.Second)

	// Assert
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, int64(2), atomic.LoadInt64(created))
	assert.True(t, c1.resource.(*fakeResource).closed.Load())
}

func TestPool_AcquireByTagPrefersTaggedConnection(t *testing.T) {
	// Arrange
	p, _ := newTestPool(t, 2)
	c1, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)
	p.SetTag(c1, "tenant", "acme")
	p.Release(c1)
	p.Release(c2)

	// Act
	got, err := p.AcquireByTag(context.Background(), "tenant", "acme", Normal, time.Second)

	// Assert
	require.NoError(t, err)
	assert.Same(t, c1, got)
}

func TestPool_CloseRejectsFurtherAcquiresAndWakesWaiters(t *testing.T) {
	// Arrange
	p, _ := newTestPool(t, 1)
	c1, err := p.Acquire(context.Background(), Normal, time.Second)
	require.NoError(t, err)

	waitErrCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), Normal, 2*time.Second)
		waitErrCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Act
	p.Close()
	_ = c1

	// Assert
	waitErr := <-waitErrCh
	assert.Error(t, waitErr)

	_, err = p.Acquire(context.Background(), Normal, time.Second)
	assert.Error(t, err)
}
