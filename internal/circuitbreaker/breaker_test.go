package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		VolumeThreshold:  4,
		MonitoringWindow: time.Minute,
		ResetTimeout:     20 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	}
}

func TestBreaker_StaysClosedBelowVolumeThreshold(t *testing.T) {
	// Arrange
	b := New("hot", testConfig(), zap.NewNop())
	boom := errors.New("boom")

	// Act: three failures, below the volume threshold of four
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}

	// Assert
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensOnVolumeAndRatio(t *testing.T) {
	// Arrange
	b := New("hot", testConfig(), zap.NewNop())
	boom := errors.New("boom")

	// Act: four calls, all failing clears both volume and ratio thresholds
	for i := 0; i < 4; i++ {
		_ = b.Execute(func() error { return boom })
	}

	// Assert
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_DoesNotOpenWhenRatioBelowThresholdDespiteVolume(t *testing.T) {
	// Arrange
	b := New("hot", testConfig(), zap.NewNop())
	boom := errors.New("boom")

	// Act: four calls, only one failing — volume clears but ratio (0.25) does not
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return boom })

	// Assert
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpenRejectsWithoutCallingFn(t *testing.T) {
	// Arrange
	b := New("hot", testConfig(), zap.NewNop())
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = b.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, b.State())

	// Act
	called := false
	err := b.Execute(func() error { called = true; return nil })

	// Assert
	assert.False(t, called)
	assert.Error(t, err)
}

func TestBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	// Arrange
	b := New("hot", testConfig(), zap.NewNop())
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = b.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, b.State())
	time.Sleep(30 * time.Millisecond)

	// Act
	err := b.Execute(func() error { return nil })

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	// Arrange
	b := New("hot", testConfig(), zap.NewNop())
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = b.Execute(func() error { return boom })
	}
	require.Equal(t, StateOpen, b.State())
	time.Sleep(30 * time.Millisecond)

	// Act
	err := b.Execute(func() error { return boom })

	// Assert
	assert.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistry_ReturnsSameBreakerForSameName(t *testing.T) {
	// Arrange
	r := NewRegistry(testConfig(), zap.NewNop())

	// Act
	a := r.Get("hot")
	again := r.Get("hot")
	other := r.Get("warm")

	// Assert
	assert.Same(t, a, again)
	assert.NotSame(t, a, other)
}
