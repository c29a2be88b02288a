// Package http is the thin HTTP surface over the resolver: route parsing,
// error mapping, health and metrics. All decisions live in the resolver.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/resmoray/nomad-weather-map/internal/models"
	"github.com/resmoray/nomad-weather-map/internal/observability"
	"github.com/resmoray/nomad-weather-map/internal/resolver"
	"github.com/resmoray/nomad-weather-map/internal/upstream"
	"github.com/resmoray/nomad-weather-map/internal/validation"
)

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	resolver  *resolver.Resolver
	scheduler *upstream.Scheduler
	// cachePing, when set, checks the shared cache tier for the health report.
	cachePing func() error
	logger    *zap.Logger
}

// NewHandler returns a new Handler. cachePing may be nil.
func NewHandler(res *resolver.Resolver, scheduler *upstream.Scheduler, cachePing func() error, logger *zap.Logger) *Handler {
	return &Handler{
		resolver:  res,
		scheduler: scheduler,
		cachePing: cachePing,
		logger:    logger,
	}
}

// NewRouter builds the service router with the standard middleware chain.
func NewRouter(h *Handler, tracker *InFlightTracker, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware(tracker))

	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.HandleFunc("/regions", h.GetRegions).Methods(http.MethodGet)

	weather := r.PathPrefix("/weather").Subrouter()
	weather.Use(RateLimitMiddleware(limiter))
	weather.Use(TimeoutMiddleware(requestTimeout))
	weather.HandleFunc("/{regionId}/{month}", h.GetWeatherSummary).Methods(http.MethodGet)
	return r
}

// weatherResponse is the resolve payload.
type weatherResponse struct {
	RegionID    string                `json:"regionId"`
	Month       int                   `json:"month"`
	Source      string                `json:"source"`
	StaleReason string                `json:"staleReason,omitempty"`
	Summary     models.MonthlySummary `json:"summary"`
}

// GetWeatherSummary handles GET /weather/{regionId}/{month}.
// Query parameters: marine=true, mode=verified_only|refresh_if_stale|force_refresh,
// allow_stale=false.
func (h *Handler) GetWeatherSummary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	month, err := strconv.Atoi(vars["month"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_MONTH", "month must be a number between 1 and 12")
		return
	}
	mode, err := resolver.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_MODE", err.Error())
		return
	}

	in := resolver.NewInput(vars["regionId"], month)
	in.Mode = mode
	in.IncludeMarine = r.URL.Query().Get("marine") == "true"
	if r.URL.Query().Get("allow_stale") == "false" {
		in.AllowStaleSnapshot = false
	}

	res, err := h.resolver.Resolve(r.Context(), in)
	if err != nil {
		h.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		RegionID:    in.RegionID,
		Month:       month,
		Source:      string(res.Source),
		StaleReason: res.StaleReason,
		Summary:     res.Summary,
	})
}

// GetRegions handles GET /regions.
func (h *Handler) GetRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"regions":       h.resolver.RegionIDs(),
		"baselineYears": h.resolver.BaselineYears(),
	})
}

// GetHealth handles GET /health. The service is degraded while the upstream
// cooldown is active or the shared cache is unreachable; it still serves
// stored data in both cases, so the status code stays 200.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"upstream": "healthy"}
	status := "healthy"

	cooldown := h.scheduler.CooldownRemaining()
	if cooldown > 0 {
		checks["upstream"] = "cooling-down"
		status = "degraded"
	}
	if h.cachePing != nil {
		if err := h.cachePing(); err != nil {
			checks["cache"] = "unhealthy"
			status = "degraded"
		} else {
			checks["cache"] = "healthy"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  status,
		"service":                 "nomad-weather-map",
		"checks":                  checks,
		"upstreamCooldownSeconds": int(cooldown.Seconds()),
		"timestamp":               time.Now().UTC().Format(time.RFC3339),
	})
}

// writeResolveError maps resolver failures onto the error envelope.
func (h *Handler) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalidMonth),
		errors.Is(err, validation.ErrRegionIDEmpty),
		errors.Is(err, validation.ErrRegionIDInvalidChars):
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, resolver.ErrUnknownRegion):
		writeError(w, r, http.StatusNotFound, "UNKNOWN_REGION", err.Error())
	case errors.Is(err, resolver.ErrVerifiedUnavailable):
		writeError(w, r, http.StatusNotFound, "NO_VERIFIED_DATA", err.Error())
	case errors.Is(err, upstream.ErrRateLimited):
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED", "Upstream is rate limiting; try again later")
	default:
		requestLogger(r.Context()).Debug("resolve error", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to resolve weather summary")
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the standard error envelope with code, message, and the
// request's correlation ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r.Context()),
		},
	})
}
