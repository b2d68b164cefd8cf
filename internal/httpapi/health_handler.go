package httpapi

import (
	"net/http"

	"heimdall-backend/internal/health"
)

// HealthHandler fields GET /health (§6 Health API).
type HealthHandler struct {
	aggregator *health.Aggregator
}

func NewHealthHandler(aggregator *health.Aggregator) *HealthHandler {
	return &HealthHandler{aggregator: aggregator}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.aggregator.Check(r.Context())

	status := http.StatusOK
	switch report.Status {
	case health.StatusDegraded:
		status = http.StatusOK // still serving traffic
	case health.StatusDown:
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}
