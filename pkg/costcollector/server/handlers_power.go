package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/collector"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/power"
)

type windowPayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type containersResponse struct {
	Containers []power.ContainerRecord `json:"containers"`
	Count      int                     `json:"count"`
	Window     *windowPayload          `json:"window,omitempty"`
	Warning    string                  `json:"warning,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

type nodesResponse struct {
	Nodes     []power.NodeRecord `json:"nodes"`
	Count     int                `json:"count"`
	Warning   string             `json:"warning,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func newContainersResponse(res *collector.ContainerResult) containersResponse {
	out := containersResponse{
		Containers: res.Records,
		Count:      len(res.Records),
		Timestamp:  res.CollectedAt,
	}
	if !res.Window.IsZero() {
		out.Window = &windowPayload{Start: res.Window.Start, End: res.Window.End}
	}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	return out
}

// CurrentPower runs a windowed container pass
func (h *Handler) CurrentPower(w http.ResponseWriter, r *http.Request) {
	window, err := parseTimeRange(r, "5m")
	if err != nil {
		writeFailure(w, err)
		return
	}

	q := r.URL.Query()
	res, err := h.deps.Power.Containers(r.Context(), collector.Options{
		Namespace: q.Get("namespace"),
		Workload:  q.Get("workload"),
		Window:    window,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newContainersResponse(res))
}

// Containers runs an instant container pass
func (h *Handler) Containers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.deps.Power.Containers(r.Context(), collector.Options{
		Namespace: q.Get("namespace"),
		Limit:     parseLimit(q.Get("limit"), common.DefaultContainerLimit, maxContainerLimit),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newContainersResponse(res))
}

// Nodes runs a node pass
func (h *Handler) Nodes(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Power.Nodes(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}

	out := nodesResponse{
		Nodes:     res.Records,
		Count:     len(res.Records),
		Timestamp: res.CollectedAt,
	}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// Workload summarizes the containers of one workload
func (h *Handler) Workload(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Power.WorkloadSummary(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
