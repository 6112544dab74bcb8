package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/collector"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

// CollectStatus reports whether background collection is active
func (h *Handler) CollectStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.deps.Collection.Running(),
		"interval": h.deps.Collection.Interval().String(),
	})
}

// CollectStart starts background collection
func (h *Handler) CollectStart(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Collection.Start(h.deps.BaseContext)
	switch {
	case errors.Is(err, collector.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeFailure(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "Background data collection started",
			"interval": h.deps.Collection.Interval().String(),
		})
	}
}

// CollectStop stops background collection
func (h *Handler) CollectStop(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Collection.Stop()
	switch {
	case errors.Is(err, collector.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeFailure(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Background data collection stopped"})
	}
}

// Snapshot returns the latest background pass of a scope
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	scope := power.Scope(chi.URLParam(r, "scope"))
	if scope != power.ScopeContainer && scope != power.ScopeNode {
		writeError(w, http.StatusBadRequest, "scope must be container or node")
		return
	}

	snap, ok := h.deps.Collection.Latest(scope)
	if !ok {
		writeError(w, http.StatusNotFound, "no snapshot collected yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
