package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// ContainerHistory returns the stored samples of one container
func (h *Handler) ContainerHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "history store is disabled")
		return
	}
	window, err := parseTimeRange(r, "1h")
	if err != nil {
		writeFailure(w, err)
		return
	}

	key := power.EntityKey{
		Scope:         power.ScopeContainer,
		Namespace:     chi.URLParam(r, "namespace"),
		PodName:       chi.URLParam(r, "pod"),
		ContainerName: chi.URLParam(r, "container"),
	}
	end := h.deps.Clock.Now()
	samples, err := h.deps.History.GetContainerHistory(key, end.Add(-window), end)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity":  key.String(),
		"samples": samples,
		"count":   len(samples),
	})
}

// NodeHistory returns the stored samples of one node
func (h *Handler) NodeHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "history store is disabled")
		return
	}
	window, err := parseTimeRange(r, "1h")
	if err != nil {
		writeFailure(w, err)
		return
	}

	node := chi.URLParam(r, "node")
	end := h.deps.Clock.Now()
	samples, err := h.deps.History.GetNodeHistory(node, end.Add(-window), end)
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entity":  node,
		"samples": samples,
		"count":   len(samples),
	})
}
