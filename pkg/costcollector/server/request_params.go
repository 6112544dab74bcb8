package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/timewindow"
)

// maxContainerLimit caps the limit query parameter
const maxContainerLimit = 1000

func parseLimit(raw string, fallback, max int) int {
	limit := fallback
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseTimeRange reads the time_range parameter, using fallback when absent.
// Malformed tokens are rejected rather than defaulted.
func parseTimeRange(r *http.Request, fallback string) (time.Duration, error) {
	raw := r.URL.Query().Get("time_range")
	if raw == "" {
		raw = fallback
	}
	return timewindow.Parse(raw)
}
