package health

import (
	"context"
	"fmt"

	"heimdall-backend/internal/bus"
	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/circuitbreaker"
	"heimdall-backend/internal/storage"
)

// StorageChecker reports down when no tier has usable stats and healthy
// otherwise. It never reports degraded: Manager.Stats leaves a tier whose
// stats call failed out of its map without signalling the failure.
func StorageChecker(mgr *storage.Manager) Checker {
	return func(ctx context.Context) Component {
		stats := mgr.Stats(ctx)
		if len(stats) == 0 {
			return Component{Status: StatusDown, Details: "no storage tier reporting"}
		}
		return Component{Status: StatusHealthy, Details: fmt.Sprintf("%d tiers reporting", len(stats))}
	}
}

// CacheChecker always reports healthy; the cache degrading gracefully
// under pressure (via ReducePressure) is not itself a health signal, but
// its hit/miss ratio is surfaced for operators.
func CacheChecker(c *cache.Cache) Checker {
	return func(ctx context.Context) Component {
		s := c.Stats()
		return Component{
			Status:  StatusHealthy,
			Details: fmt.Sprintf("entries=%d hits=%d misses=%d", s.EntryCount, s.Hits, s.Misses),
		}
	}
}

// CircuitBreakerChecker reports degraded when any breaker is open, down
// when every breaker is open.
func CircuitBreakerChecker(reg *circuitbreaker.Registry) Checker {
	return func(ctx context.Context) Component {
		breakers := reg.All()
		if len(breakers) == 0 {
			return Component{Status: StatusHealthy, Details: "no breakers tripped yet"}
		}
		open := 0
		for _, b := range breakers {
			if b.State() == circuitbreaker.StateOpen {
				open++
			}
		}
		switch {
		case open == 0:
			return Component{Status: StatusHealthy}
		case open == len(breakers):
			return Component{Status: StatusDown, Details: fmt.Sprintf("%d/%d breakers open", open, len(breakers))}
		default:
			return Component{Status: StatusDegraded, Details: fmt.Sprintf("%d/%d breakers open", open, len(breakers))}
		}
	}
}

// MetricsChecker reports healthy as long as the prometheus registry is
// reachable; wiring failures surface through the /metrics endpoint
// itself rather than through a dedicated ping.
func MetricsChecker() Checker {
	return func(ctx context.Context) Component {
		return Component{Status: StatusHealthy}
	}
}

// BusChecker reports degraded once the dead letter queue is building up,
// since that means the bus has been failing publishes.
func BusChecker(dlq *bus.DeadLetterPublisher, maxQueueDepth int) Checker {
	return func(ctx context.Context) Component {
		depth := dlq.QueueDepth()
		if maxQueueDepth > 0 && depth >= maxQueueDepth {
			return Component{Status: StatusDown, Details: fmt.Sprintf("dead letter queue full (%d)", depth)}
		}
		if depth > 0 {
			return Component{Status: StatusDegraded, Details: fmt.Sprintf("%d batches queued for retry", depth)}
		}
		return Component{Status: StatusHealthy}
	}
}

// MLChecker wraps a simple availability probe for the ML enrichment
// hook, kept as a function so the mock and any future real hook both
// plug in without this package depending on their concrete types.
func MLChecker(available func() bool) Checker {
	return func(ctx context.Context) Component {
		if available() {
			return Component{Status: StatusHealthy}
		}
		return Component{Status: StatusDegraded, Details: "ml hook unavailable, enrichment skipped"}
	}
}
