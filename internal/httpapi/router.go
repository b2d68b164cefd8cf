// Package httpapi exposes Heimdall's external interfaces (§6) over HTTP:
// ingestion, query, streaming subscriptions, health, and stats/metrics.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/health"
	"heimdall-backend/internal/ingest"
	appmiddleware "heimdall-backend/internal/middleware"
	"heimdall-backend/internal/observability"
	"heimdall-backend/internal/query"
	"heimdall-backend/internal/resourcemgr"
	"heimdall-backend/internal/storage"
	"heimdall-backend/internal/subscription"
)

// Deps bundles every collaborator the router wires into handlers.
type Deps struct {
	Pipeline      *ingest.Pipeline
	QueryService  *query.Service
	Subscriptions *subscription.Manager
	Storage       *storage.Manager
	Cache         *cache.Cache
	Resources     *resourcemgr.Manager
	Health        *health.Aggregator
	Metrics       *observability.Collector
	Logger        *zap.Logger

	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
}

// NewRouter builds the full HTTP surface: global middleware, CORS, an
// ingress circuit breaker guarding every handler, and the versioned route
// tree.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(appmiddleware.RequestID)
	r.Use(appmiddleware.Recovery(logger))
	r.Use(appmiddleware.CircuitBreaker(appmiddleware.DefaultCircuitBreakerConfig("ingress"), logger))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := NewHealthHandler(d.Health)
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", MetricsHandler(d.Metrics))

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Timeout(d.RequestTimeout, logger))

			ingestHandler := NewIngestHandler(d.Pipeline, d.Metrics, logger)
			r.Post("/ingest", ingestHandler.Ingest)
			r.Post("/ingest/batch", ingestHandler.IngestBatch)

			queryHandler := NewQueryHandler(d.QueryService, d.Metrics, logger)
			r.Post("/query", queryHandler.Query)

			statsHandler := NewStatsHandler(d.Cache, d.Resources, d.Subscriptions)
			r.Get("/stats", statsHandler.Stats)
		})

		// Subscriptions stream for as long as the client stays connected,
		// so they're excluded from the request timeout above.
		subHandler := NewSubscriptionHandler(d.Subscriptions, d.Storage, d.Metrics, logger)
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Subscribe)
			r.Delete("/{id}", subHandler.Unsubscribe)
		})
	})

	return r
}
