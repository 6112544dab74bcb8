package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/collector"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/common"
	"github.com/elevated-systems/kepler-cost-collector/pkg/costcollector/cost"
)

type ratesPayload struct {
	ElectricityRate float64 `json:"electricity_rate"`
	CoolingFactor   float64 `json:"cooling_factor"`
	CarbonRate      float64 `json:"carbon_rate"`
}

type costResponse struct {
	cost.Summary
	ContainerCount int          `json:"container_count"`
	Rates          ratesPayload `json:"rates"`
	Warning        string       `json:"warning,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

func newRatesPayload(r cost.Rates) ratesPayload {
	return ratesPayload{
		ElectricityRate: r.ElectricityRate,
		CoolingFactor:   r.CoolingFactor,
		CarbonRate:      r.CarbonRate,
	}
}

// CurrentCost prices a windowed container pass
func (h *Handler) CurrentCost(w http.ResponseWriter, r *http.Request) {
	window, err := parseTimeRange(r, common.DefaultCostWindow)
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

	calc := h.deps.Rates.Calculator(r.Context(), h.deps.Clock.Now())
	out := costResponse{
		Summary:        calc.CalculateTotalCost(cost.ContainerRecords(res.Records)),
		ContainerCount: len(res.Records),
		Rates:          newRatesPayload(calc.Rates()),
		Timestamp:      res.CollectedAt,
	}
	if res.Warning != nil {
		out.Warning = res.Warning.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// WorkloadCost prices the containers of one workload
func (h *Handler) WorkloadCost(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.Power.WorkloadSummary(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeFailure(w, err)
		return
	}

	calc := h.deps.Rates.Calculator(r.Context(), h.deps.Clock.Now())
	out := costResponse{
		Summary:        calc.CalculateTotalCost(cost.ContainerRecords(summary.Records)),
		ContainerCount: summary.ContainerCount,
		Rates:          newRatesPayload(calc.Rates()),
		Timestamp:      summary.CollectedAt,
	}
	if summary.Warning != nil {
		out.Warning = summary.Warning.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workload_id":    summary.WorkloadName,
		"cost_breakdown": out,
	})
}
