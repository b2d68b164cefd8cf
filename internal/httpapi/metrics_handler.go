package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"heimdall-backend/internal/observability"
)

// MetricsHandler exposes the Prometheus registry at GET /metrics (§6
// Stats API).
func MetricsHandler(collector *observability.Collector) http.Handler {
	return promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})
}
