package httpapi

import (
	"net/http"

	"heimdall-backend/internal/cache"
	"heimdall-backend/internal/resourcemgr"
	"heimdall-backend/internal/subscription"
)

// statsResponse is the JSON counterpart to the Prometheus /metrics
// endpoint (§6 Stats/metrics) — a single snapshot for callers that want
// numbers without scraping.
type statsResponse struct {
	Cache         cache.Stats        `json:"cache"`
	Resources     resourcemgr.Usage  `json:"resources"`
	Subscriptions int                `json:"active_subscriptions"`
}

// StatsHandler fields GET /v1/stats.
type StatsHandler struct {
	cache   *cache.Cache
	resmgr  *resourcemgr.Manager
	subs    *subscription.Manager
}

func NewStatsHandler(c *cache.Cache, resmgr *resourcemgr.Manager, subs *subscription.Manager) *StatsHandler {
	return &StatsHandler{cache: c, resmgr: resmgr, subs: subs}
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{}
	if h.cache != nil {
		resp.Cache = h.cache.Stats()
	}
	if h.resmgr != nil {
		resp.Resources = h.resmgr.Usage()
	}
	if h.subs != nil {
		resp.Subscriptions = h.subs.Count()
	}
	respondJSON(w, http.StatusOK, resp)
}
