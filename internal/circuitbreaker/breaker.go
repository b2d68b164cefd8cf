// Package circuitbreaker protects calls to unreliable downstream dependencies
// (storage tiers, the message bus, the ML enrichment hook) behind a
// sliding-window failure breaker. One Breaker guards one named dependency;
// Registry hands out a breaker per name so callers never need to wire their
// own bookkeeping.
package circuitbreaker

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "heimdall-backend/internal/errors"
)

// State is the lifecycle state of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config carries the tunables named in the resource/reliability core spec.
type Config struct {
	// FailureThreshold is the failure ratio, in [0,1], at or above which the
	// breaker opens once VolumeThreshold has been met.
	FailureThreshold float64
	// VolumeThreshold is the minimum number of calls observed within
	// MonitoringWindow before the failure ratio is even considered. This
	// guards against opening on a handful of cold-start failures.
	VolumeThreshold int
	// MonitoringWindow is the width of the sliding window used to compute
	// the failure ratio.
	MonitoringWindow time.Duration
	// ResetTimeout is how long the breaker stays open before probing with
	// a half-open trial.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls bounds the number of trial calls admitted while
	// half-open.
	HalfOpenMaxCalls int

	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns conservative defaults matching the spec's resource
// manager section.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 0.5,
		VolumeThreshold:  10,
		MonitoringWindow: 30 * time.Second,
		ResetTimeout:     15 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Breaker guards calls to a single named dependency.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	state           atomic.Int32
	stateMu         sync.Mutex
	lastStateChange time.Time

	window *slidingWindow

	halfOpenInFlight atomic.Int32
}

// New constructs a Breaker for the given dependency name.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Breaker{
		name:            name,
		config:          config,
		logger:          logger,
		lastStateChange: time.Now(),
		window:          newSlidingWindow(config.MonitoringWindow),
	}
	b.state.Store(int32(StateClosed))
	return b
}

// Name returns the guarded dependency's name.
func (b *Breaker) Name() string { return b.name }

// State returns the breaker's current state, attempting the open->half-open
// transition first if the reset timeout has elapsed.
func (b *Breaker) State() State {
	if State(b.state.Load()) == StateOpen && b.resetTimeoutElapsed() {
		b.transition(StateOpen, StateHalfOpen)
	}
	return State(b.state.Load())
}

// Execute runs fn if the breaker currently admits calls, recording the
// outcome. When the breaker is open it returns a DEPENDENCY_UNAVAILABLE
// error without invoking fn — callers must not retry within the same call,
// per the reliability core's contract.
func (b *Breaker) Execute(fn func() error) error {
	state := b.State()

	switch state {
	case StateOpen:
		return apperrors.CircuitOpen(string(apperrors.CodeDependencyUnavailable), "dependency "+b.name+" is unavailable").
			WithResource(b.name).
			WithRetryable(false).
			Build()

	case StateHalfOpen:
		if b.halfOpenInFlight.Add(1) > int32(b.config.HalfOpenMaxCalls) {
			b.halfOpenInFlight.Add(-1)
			return apperrors.CircuitOpen(string(apperrors.CodeDependencyUnavailable), "dependency "+b.name+" is being probed").
				WithResource(b.name).
				WithRetryable(false).
				Build()
		}
		defer b.halfOpenInFlight.Add(-1)

		err := fn()
		b.window.record(err == nil)
		if err != nil {
			b.transition(StateHalfOpen, StateOpen)
			return err
		}
		b.transition(StateHalfOpen, StateClosed)
		return nil

	default: // StateClosed
		err := fn()
		b.window.record(err == nil)
		if b.shouldOpen() {
			b.transition(StateClosed, StateOpen)
		}
		return err
	}
}

// shouldOpen is deliberately conjunctive: the breaker only opens once BOTH
// the call volume and the failure ratio clear their thresholds. A ratio
// computed over a handful of calls is noise, not a signal.
func (b *Breaker) shouldOpen() bool {
	stats := b.window.stats()
	if stats.total < b.config.VolumeThreshold {
		return false
	}
	failureRate := float64(stats.failures) / float64(stats.total)
	return failureRate >= b.config.FailureThreshold
}

func (b *Breaker) resetTimeoutElapsed() bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return time.Since(b.lastStateChange) >= b.config.ResetTimeout
}

func (b *Breaker) transition(from, to State) {
	b.stateMu.Lock()
	if State(b.state.Load()) != from {
		b.stateMu.Unlock()
		return
	}
	b.state.Store(int32(to))
	b.lastStateChange = time.Now()
	b.stateMu.Unlock()

	if to == StateClosed {
		b.window.reset()
	}
	if to == StateHalfOpen {
		b.halfOpenInFlight.Store(0)
	}

	b.logger.Info("circuit breaker state change",
		zap.String("dependency", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, from, to)
	}
}

// Stats exposes a snapshot for health reporting.
type Stats struct {
	State    State
	Total    int
	Failures int
}

func (b *Breaker) Stats() Stats {
	s := b.window.stats()
	return Stats{State: b.State(), Total: s.total, Failures: s.failures}
}
