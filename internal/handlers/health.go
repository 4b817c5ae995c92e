package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/veil-waf/phishguard/internal/cache"
	"github.com/veil-waf/phishguard/internal/db"
	"github.com/veil-waf/phishguard/internal/reach"
)

// HealthHandler reports liveness and dependency health.
type HealthHandler struct {
	version string
	store   db.Store
	cache   *cache.ScoreCache
	reach   *reach.Checker
}

// NewHealthHandler creates a HealthHandler. store, scoreCache and checker
// may be nil.
func NewHealthHandler(version string, store db.Store, scoreCache *cache.ScoreCache, checker *reach.Checker) *HealthHandler {
	return &HealthHandler{version: version, store: store, cache: scoreCache, reach: checker}
}

// Ping handles GET /ping.
func (hh *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("pong"))
}

// Healthz handles GET /healthz. It returns 503 when the store is down; a
// failing cache only degrades the report.
func (hh *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]any{
		"status":        "ok",
		"model_version": hh.version,
	}
	code := http.StatusOK

	if hh.store != nil {
		if err := hh.store.PingContext(ctx); err != nil {
			body["status"] = "unavailable"
			body["store"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["store"] = "ok"
		}
	}
	if hh.cache != nil {
		if err := hh.cache.Ping(ctx); err != nil {
			body["cache"] = err.Error()
			if code == http.StatusOK {
				body["status"] = "degraded"
			}
		} else {
			body["cache"] = "ok"
		}
	}
	if hh.reach != nil {
		body["reachability_breaker"] = hh.reach.State()
	}
	writeJSON(w, code, body)
}
