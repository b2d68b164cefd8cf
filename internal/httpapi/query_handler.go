package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"heimdall-backend/internal/logentry"
	"heimdall-backend/internal/observability"
	"heimdall-backend/internal/query"
)

// QueryHandler fields the query API (§6) — the front door for searches
// against the tiered storage backend, mediated by the query cache.
type QueryHandler struct {
	service *query.Service
	metrics *observability.Collector
	logger  *zap.Logger
}

func NewQueryHandler(service *query.Service, metrics *observability.Collector, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{service: service, metrics: metrics, logger: logger}
}

// Query handles POST /v1/query.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var q logentry.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		respondError(w, badRequestf("request body is not a valid query: %s", err.Error()))
		return
	}

	start := time.Now()
	result, err := h.service.Query(r.Context(), q)
	elapsed := time.Since(start)

	if h.metrics != nil {
		cacheResult := "miss"
		if result != nil && result.Performance.CacheHit {
			cacheResult = "hit"
		}
		h.metrics.QueryDuration.WithLabelValues(cacheResult).Observe(elapsed.Seconds())
		if result != nil && result.Performance.TimedOut {
			h.metrics.QueryTimeouts.Inc()
		}
	}

	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
