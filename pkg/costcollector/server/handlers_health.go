package server

import (
	"net/http"
)

// Health returns the probe report, with 503 when unhealthy
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.deps.Health.Check(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
