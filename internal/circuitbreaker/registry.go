package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one Breaker per named dependency, creating it lazily
// on first use with the supplied default config. The ingestion pipeline looks
// up one breaker per fan-out destination by name ("storage", "bus",
// "subscription") instead of constructing one directly.
type Registry struct {
	mu       sync.Mutex
	config   Config
	logger   *zap.Logger
	breakers map[string]*Breaker
}

func NewRegistry(config Config, logger *zap.Logger) *Registry {
	return &Registry{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it if this is the first call.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.config, r.logger)
	r.breakers[name] = b
	return b
}

// All returns a stable-enough snapshot of every breaker created so far, for
// health aggregation.
func (r *Registry) All() map[string]*Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}
