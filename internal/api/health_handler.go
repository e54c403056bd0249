package api

import (
	"net/http"

	"github.com/sungwon/mail-dispatch/internal/provider"
)

// HealthReporter exposes the latest transport health checks.
type HealthReporter interface {
	GetAllStatuses() map[string]provider.HealthStatus
}

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type readyResponse struct {
	Status    string                           `json:"status"`
	Providers map[string]provider.HealthStatus `json:"providers"`
}

// ReadyzHandler handles GET /readyz.
// Returns 200 while at least one checked transport is healthy, or before
// any check has completed. Returns 503 with a Retry-After header when every
// checked transport is unhealthy.
func ReadyzHandler(health HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := map[string]provider.HealthStatus{}
		if health != nil {
			statuses = health.GetAllStatuses()
		}

		healthy := len(statuses) == 0
		for _, s := range statuses {
			if s.Healthy {
				healthy = true
				break
			}
		}

		if !healthy {
			w.Header().Set("Retry-After", "30")
			respondJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "unavailable", Providers: statuses})
			return
		}
		respondJSON(w, http.StatusOK, readyResponse{Status: "ok", Providers: statuses})
	}
}
