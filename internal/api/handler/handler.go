// Package handler provides the HTTP handlers of the status API. Every view
// is read from in-process state; only history touches Postgres.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/albapepper/collection-watch/internal/api/respond"
	"github.com/albapepper/collection-watch/internal/cache"
	"github.com/albapepper/collection-watch/internal/collection"
	"github.com/albapepper/collection-watch/internal/discovery"
	"github.com/albapepper/collection-watch/internal/monitor"
	"github.com/albapepper/collection-watch/internal/schedule"
	"github.com/albapepper/collection-watch/internal/store"
)

// Version is reported at /.
const Version = "1.0.0"

// Monitor reports loop statistics.
type Monitor interface {
	Stats() monitor.Stats
}

// Discovery reports scanner state.
type Discovery interface {
	Status() discovery.Status
}

// Scheduler lists pending last chance alerts.
type Scheduler interface {
	Pending() []schedule.Entry
}

// History reads stored daily series.
type History interface {
	Series(ctx context.Context, slug string) ([]collection.RevenuePoint, error)
}

// Prices reports the tracked lowest listing of a collection.
type Prices interface {
	Lowest(collectionID int) (collection.NFT, bool)
}

// Pinger checks database connectivity.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the handler collaborators. History, Prices and DB may be nil.
type Deps struct {
	Store     *store.Store
	Monitor   Monitor
	Discovery Discovery
	Scheduler Scheduler
	History   History
	Prices    Prices
	DB        Pinger
	Cache     *cache.Cache
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	Deps
	now func() time.Time
}

// New creates a Handler.
func New(deps Deps) *Handler {
	if deps.Cache == nil {
		deps.Cache = cache.New(false)
	}
	return &Handler{Deps: deps, now: time.Now}
}

// cached serves the value built by build under key, answering 304 when the
// client already holds the current ETag.
func (h *Handler) cached(w http.ResponseWriter, r *http.Request, key string, ttl time.Duration, build func() (any, error)) {
	if data, etag, ok := h.Cache.Get(key); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.NotModified(w, etag)
			return
		}
		respond.Cached(w, data, etag, ttl, true)
		return
	}

	v, err := build()
	if err != nil {
		writeBuildError(w, err)
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		respond.ErrorDetail(w, http.StatusInternalServerError, "ENCODE_FAILED", "Could not encode response", err.Error())
		return
	}
	etag := h.Cache.Set(key, data, ttl)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.NotModified(w, etag)
		return
	}
	respond.Cached(w, data, etag, ttl, false)
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns service name, version and the documentation path.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{
		"name":    "collection-watch",
		"version": Version,
		"status":  "running",
		"docs":    "/docs",
		"history": h.History != nil,
	})
}

// HealthCheck returns service health. With a database configured it also
// pings Postgres and reports 503 when that fails.
// @Summary Health check
// @Description Returns health, cache statistics and database connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"cache":     h.Cache.Stats(),
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if h.DB != nil {
		if err := h.DB.HealthCheck(r.Context()); err != nil {
			body["status"] = "unhealthy"
			body["database"] = "disconnected"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "connected"
		}
	}
	respond.JSON(w, status, body)
}

// GetStats returns loop counters and store sizes.
// @Summary Monitor statistics
// @Tags status
// @Produce json
// @Success 200 {object} monitor.Stats
// @Router /api/v1/stats [get]
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.cached(w, r, "stats", cache.TTLLive, func() (any, error) {
		return h.Monitor.Stats(), nil
	})
}

// GetDiscovery returns the discovery scanner state.
// @Summary Discovery status
// @Tags status
// @Produce json
// @Success 200 {object} discovery.Status
// @Router /api/v1/discovery [get]
func (h *Handler) GetDiscovery(w http.ResponseWriter, r *http.Request) {
	h.cached(w, r, "discovery", cache.TTLLive, func() (any, error) {
		return h.Discovery.Status(), nil
	})
}

// GetScheduled lists pending last chance alerts, soonest first.
// @Summary Scheduled alerts
// @Tags status
// @Produce json
// @Success 200 {array} schedule.Entry
// @Router /api/v1/scheduled [get]
func (h *Handler) GetScheduled(w http.ResponseWriter, r *http.Request) {
	h.cached(w, r, "scheduled", cache.TTLLive, func() (any, error) {
		entries := h.Scheduler.Pending()
		if entries == nil {
			entries = []schedule.Entry{}
		}
		return entries, nil
	})
}
